package manager

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"lux/internal/faults"
	"lux/internal/logging"
	"lux/internal/metrics"
	"lux/internal/permissions"
	"lux/internal/sandbox"
)

// ExecuteFunction answers text. The boolean is false when the request asked
// for no function, so the caller can fall back to plain conversation. A
// failed classification is answered as an internal error.
func (m *Manager) ExecuteFunction(ctx context.Context, text string) (answer string, handled bool) {
	reqID := uuid.New().String()[:8]
	log := logging.WithRequestID(logging.CategoryRouter, reqID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling %q: %v", text, r)
			answer = m.feedback.Render(faults.New(faults.Internal, "", fmt.Sprintf("%v", r)))
			handled = true
		}
	}()

	analysis, err := m.AnalyzeRequest(ctx, text)
	if err != nil {
		return m.feedback.Render(faults.Wrap(faults.Internal, "", err, "classification failed")), true
	}

	switch analysis.Type {
	case AnalysisYes:
		log.Info("executing %s (extra %q)", analysis.Function, analysis.Extra)
		out, err := m.runExisting(ctx, reqID, analysis.Function, analysis.Extra, text)
		if err != nil {
			log.Warn("execution of %s failed: %v", analysis.Function, err)
			return m.feedback.Render(err), true
		}
		return out, true

	case AnalysisNew:
		log.Info("creating %s: %s", analysis.Function, analysis.Description)
		created, err := m.CreateFunction(ctx, analysis.Function, analysis.Description)
		if err != nil {
			log.Warn("creation of %s failed: %v", analysis.Function, err)
			return m.feedback.Render(err), true
		}
		return m.describeCreation(ctx, created, text), true

	default:
		return "", false
	}
}

// Run executes a registered function directly with args.
func (m *Manager) Run(ctx context.Context, name string, args ...string) (sandbox.Result, error) {
	res, err := m.execute(ctx, uuid.New().String()[:8], name, args)
	if err != nil {
		return res, err
	}
	return res, resultError(name, res)
}

func (m *Manager) runExisting(ctx context.Context, reqID, name, extra, text string) (string, error) {
	res, err := m.execute(ctx, reqID, name, strings.Fields(extra))
	if err != nil {
		return "", err
	}
	if err := resultError(name, res); err != nil {
		return "", err
	}

	raw := fmt.Sprint(res.Result)
	translated, err := m.translator.Translate(ctx, raw, text)
	if err != nil {
		logging.RouterDebug("translation fell back to raw result: %v", err)
		translated = raw
	}
	return m.feedback.FormatResult(name, translated), nil
}

// execute runs name under the gates that apply at execution time and
// records the outcome. Only pre-execution failures are returned as errors.
func (m *Manager) execute(ctx context.Context, reqID, name string, args []string) (sandbox.Result, error) {
	rec, ok := m.registry.Get(name)
	if !ok {
		return sandbox.Result{}, faults.New(faults.NotFound, name, "function not registered")
	}
	if !rec.Enabled {
		return sandbox.Result{}, faults.New(faults.Disabled, name, "function is disabled")
	}

	code, err := os.ReadFile(rec.FilePath)
	if err != nil {
		m.recordFailure(ctx, name, fmt.Errorf("source file unavailable: %w", err), args)
		return sandbox.Result{}, faults.Wrap(faults.ExecutionRuntimeFault, name, err, "source file unavailable")
	}
	required := permissions.Names(m.permissions.RequiredPermissions(string(code)))
	if !m.grants.Check(name, required) {
		return sandbox.Result{}, faults.New(faults.PermissionDenied, name, "permissions not granted", required...)
	}

	res := m.executor.Run(ctx, rec.FilePath, name, args...)
	m.record(ctx, reqID, name, args, res)
	return res, nil
}

func (m *Manager) record(ctx context.Context, reqID, name string, args []string, res sandbox.Result) {
	entry := metrics.Entry{
		Function:      name,
		Success:       res.Success,
		ExecutionTime: res.ExecutionTime.Seconds(),
		MemoryUsed:    res.MemoryUsed,
		Error:         res.Error,
		ErrorType:     string(res.ErrorType),
		Args:          args,
	}
	if res.Success {
		entry.Result = fmt.Sprint(res.Result)
	}
	if _, err := m.metrics.LogExecution(entry); err != nil {
		logging.MetricsError("failed to log execution of %s: %v", name, err)
	}

	err := m.serialize(ctx, func() error {
		if err := m.registry.UpdateUsage(name, res.ExecutionTime); err != nil {
			return err
		}
		if !res.Success {
			return m.registry.IncrementErrorCount(name)
		}
		return nil
	})
	if err != nil {
		logging.RegistryError("failed to update usage of %s: %v", name, err)
	}

	if !res.Success {
		if err := m.metrics.LogError(name, fmt.Errorf("%s", res.Error), map[string]interface{}{
			"args":       args,
			"error_type": string(res.ErrorType),
		}); err != nil {
			logging.MetricsError("failed to log error of %s: %v", name, err)
		}
	}
	logging.AuditWithRequest(reqID).Executed(name, res.Success, res.ErrorType == sandbox.ErrorTimeout, res.ExecutionTime.Milliseconds())
}

// recordFailure logs a failure that happened before the executor ran. It
// still counts as a use, so the success rate stays errors over attempts.
func (m *Manager) recordFailure(ctx context.Context, name string, err error, args []string) {
	if lerr := m.metrics.LogError(name, err, map[string]interface{}{"args": args}); lerr != nil {
		logging.MetricsError("failed to log error of %s: %v", name, lerr)
	}
	rerr := m.serialize(ctx, func() error {
		if err := m.registry.UpdateUsage(name, 0); err != nil {
			return err
		}
		return m.registry.IncrementErrorCount(name)
	})
	if rerr != nil {
		logging.RegistryError("failed to count error of %s: %v", name, rerr)
	}
}

func resultError(name string, res sandbox.Result) error {
	if res.Success {
		return nil
	}
	switch res.ErrorType {
	case sandbox.ErrorTimeout:
		return faults.New(faults.ExecutionTimeout, name, res.Error)
	default:
		return faults.New(faults.ExecutionRuntimeFault, name, res.Error)
	}
}
