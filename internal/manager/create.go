package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lux/internal/dependencies"
	"lux/internal/faults"
	"lux/internal/logging"
	"lux/internal/permissions"
	"lux/internal/registry"
	"lux/internal/sandbox"
)

// Creation is a function that passed every gate and was registered.
type Creation struct {
	Record       registry.Record
	Attempts     int
	Permissions  []string
	Dependencies []dependencies.Module
	// Smoke is the zero-argument run after registration. Its failure does
	// not undo the creation.
	Smoke sandbox.Result
}

// CreateFunction generates, vets, tests and registers a new function. The
// stored name may carry a numeric suffix when name is taken.
func (m *Manager) CreateFunction(ctx context.Context, name, description string) (Creation, error) {
	var created Creation
	err := m.serialize(ctx, func() error {
		var err error
		created, err = m.create(ctx, name, description)
		return err
	})
	if err != nil {
		return Creation{}, err
	}

	// The smoke run happens outside the writer lock; it may take the full timeout.
	created.Smoke = m.executor.Run(ctx, created.Record.FilePath, created.Record.Name)
	if !created.Smoke.Success {
		logging.Router("smoke run of %s failed: %s", created.Record.Name, created.Smoke.Error)
	}
	return created, nil
}

func (m *Manager) create(ctx context.Context, requested, description string) (Creation, error) {
	start := time.Now()
	audit := logging.Audit()

	base, ok := SanitizeName(requested)
	if !ok {
		return Creation{}, faults.New(faults.GenerationFailure, requested, "invalid function name")
	}
	name := m.uniqueName(base)
	audit.Log(logging.AuditEvent{EventType: logging.AuditFunctionProposed, Function: name, Reason: description})

	reject := func(event logging.AuditEventType, stage string, err *faults.Error) (Creation, error) {
		audit.Rejected(event, name, err.Error())
		m.logCreation(name, description, false, map[string]interface{}{
			"stage": stage,
			"error": err.Error(),
		})
		return Creation{}, err
	}

	code, err := m.generator.GenerateCode(ctx, name, description)
	if err != nil {
		return reject(logging.AuditFunctionRejected, "generation", faults.Wrap(faults.GenerationFailure, name, err, "code generation failed"))
	}
	if strings.TrimSpace(code) == "" {
		return reject(logging.AuditFunctionRejected, "generation", faults.New(faults.GenerationFailure, name, "generator returned no code"))
	}

	if report := m.security.Inspect(code, name); !report.Safe() {
		return reject(logging.AuditSecurityBlock, "security", faults.New(faults.SecurityViolation, name, "generated code rejected", report.Messages()...))
	}

	// The tester inspects every repaired candidate before running it.
	outcome := m.tester.Test(ctx, name, code)
	if !outcome.Success {
		return reject(logging.AuditFunctionRejected, "testing", faults.New(faults.TestExhausted, name, outcome.Error))
	}
	code = outcome.Code

	analysis, err := m.dependencies.Analyze(code)
	if err != nil {
		fe, ok := faults.As(err)
		if !ok {
			fe = faults.Wrap(faults.Internal, name, err, "dependency analysis failed")
		}
		return reject(logging.AuditDependencyBlock, "dependencies", fe)
	}
	if len(analysis.Conflicts) > 0 {
		return reject(logging.AuditDependencyBlock, "dependencies", faults.New(faults.DependencyConflict, name, "imports outside the allow-list", analysis.Conflicts...))
	}
	if len(analysis.Required) > 0 {
		if err := m.dependencies.Install(ctx, analysis.Required); err != nil {
			fe, ok := faults.As(err)
			if !ok {
				fe = faults.Wrap(faults.DependencyInstallFailure, name, err, "install failed")
			}
			return reject(logging.AuditDependencyBlock, "dependencies", fe)
		}
	}

	decision, err := m.permissions.Evaluate(name, code)
	if err != nil {
		return reject(logging.AuditPermissionDeny, "permissions", faults.Wrap(faults.ParseError, name, err, "permission analysis failed"))
	}
	if !decision.Approved() {
		return reject(logging.AuditPermissionDeny, "permissions", faults.New(faults.PermissionDenied, name, decision.Reason(), permissions.Names(decision.Rejected)...))
	}

	path := filepath.Join(m.functionsDir, name+".go")
	if err := os.MkdirAll(m.functionsDir, 0755); err != nil {
		return reject(logging.AuditFunctionRejected, "write", faults.Wrap(faults.Internal, name, err, "failed to create functions dir"))
	}
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return reject(logging.AuditFunctionRejected, "write", faults.Wrap(faults.Internal, name, err, "failed to write source"))
	}

	modules, err := m.dependencies.Modules(code)
	if err != nil {
		logging.RouterError("failed to list modules of %s: %v", name, err)
	}
	if err := m.dependencies.Record(name, modules); err != nil {
		logging.RouterError("failed to record dependencies of %s: %v", name, err)
	}
	if err := m.grants.Grant(name, decision.Granted); err != nil {
		os.Remove(path)
		return reject(logging.AuditFunctionRejected, "permissions", faults.Wrap(faults.Internal, name, err, "failed to store grants"))
	}
	audit.Log(logging.AuditEvent{EventType: logging.AuditPermissionGrant, Function: name, Success: true, Reason: strings.Join(decision.Granted, ",")})

	functionType := InferType(description)
	rec := registry.Record{
		Name:         name,
		Description:  description,
		FilePath:     path,
		Tags:         deriveTags(name, functionType),
		FunctionType: functionType,
	}
	if err := m.registry.Register(rec); err != nil {
		os.Remove(path)
		m.grants.Revoke(name)
		m.dependencies.Forget(name)
		return reject(logging.AuditFunctionRejected, "register", faults.Wrap(faults.Internal, name, err, "failed to register"))
	}
	stored, _ := m.registry.Get(name)

	elapsed := time.Since(start)
	audit.Created(name, elapsed.Milliseconds())
	m.logCreation(name, description, true, map[string]interface{}{
		"attempts":      outcome.Attempts,
		"permissions":   decision.Granted,
		"dependencies":  moduleStrings(modules),
		"function_type": functionType,
		"elapsed_ms":    elapsed.Milliseconds(),
	})
	logging.Router("created %s in %v after %d repair attempts", name, elapsed, outcome.Attempts)

	return Creation{
		Record:       stored,
		Attempts:     outcome.Attempts,
		Permissions:  decision.Granted,
		Dependencies: modules,
	}, nil
}

func (m *Manager) logCreation(name, description string, success bool, details map[string]interface{}) {
	if err := m.metrics.LogCreation(name, description, success, details); err != nil {
		logging.MetricsError("failed to log creation of %s: %v", name, err)
	}
}

func moduleStrings(mods []dependencies.Module) []string {
	out := make([]string, 0, len(mods))
	for _, mod := range mods {
		out = append(out, mod.String())
	}
	return out
}

// describeCreation reports a creation to the user, including the smoke run.
func (m *Manager) describeCreation(ctx context.Context, c Creation, request string) string {
	name := c.Record.Name
	if !c.Smoke.Success {
		return fmt.Sprintf("He creado la función '%s' y ya está registrada, pero su primera ejecución falló: %s", name, c.Smoke.Error)
	}
	raw := fmt.Sprint(c.Smoke.Result)
	translated, err := m.translator.Translate(ctx, raw, request)
	if err != nil {
		translated = raw
	}
	return fmt.Sprintf("He creado la función '%s'. %s", name, translated)
}
