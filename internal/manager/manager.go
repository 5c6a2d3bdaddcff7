// Package manager routes natural-language requests to registered functions
// and drives the creation pipeline for new ones.
package manager

import (
	"context"
	"fmt"
	"go/token"
	"strings"

	"golang.org/x/sync/semaphore"

	"lux/internal/dependencies"
	"lux/internal/faults"
	"lux/internal/feedback"
	"lux/internal/llm"
	"lux/internal/logging"
	"lux/internal/metrics"
	"lux/internal/permissions"
	"lux/internal/registry"
	"lux/internal/sandbox"
	"lux/internal/security"
	"lux/internal/testloop"
)

// Executor runs stored functions.
type Executor interface {
	Run(ctx context.Context, path, name string, args ...string) sandbox.Result
}

// Tester accepts or repairs generated code.
type Tester interface {
	Test(ctx context.Context, name, code string) testloop.Outcome
}

// Deps are the components the manager composes.
type Deps struct {
	Registry     *registry.Registry
	Security     *security.Analyzer
	Permissions  *permissions.Analyzer
	Grants       *permissions.Store
	Dependencies *dependencies.Manager
	Executor     Executor
	Tester       Tester
	Metrics      *metrics.Manager
	Feedback     *feedback.Manager
	Generator    llm.CodeGenerator
	Classifier   llm.Classifier
	Translator   llm.Translator
	FunctionsDir string
}

// Manager is the request router and function lifecycle owner.
type Manager struct {
	registry     *registry.Registry
	security     *security.Analyzer
	permissions  *permissions.Analyzer
	grants       *permissions.Store
	dependencies *dependencies.Manager
	executor     Executor
	tester       Tester
	metrics      *metrics.Manager
	feedback     *feedback.Manager
	generator    llm.CodeGenerator
	classifier   llm.Classifier
	translator   llm.Translator
	functionsDir string

	// Creation and registry mutations run one at a time.
	writer *semaphore.Weighted
}

// New validates deps and creates a Manager.
func New(d Deps) (*Manager, error) {
	missing := []string{}
	check := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check(d.Registry != nil, "registry")
	check(d.Security != nil, "security")
	check(d.Permissions != nil, "permissions")
	check(d.Grants != nil, "grants")
	check(d.Dependencies != nil, "dependencies")
	check(d.Executor != nil, "executor")
	check(d.Tester != nil, "tester")
	check(d.Metrics != nil, "metrics")
	check(d.Generator != nil, "generator")
	check(d.Classifier != nil, "classifier")
	check(d.Translator != nil, "translator")
	check(d.FunctionsDir != "", "functions dir")
	if len(missing) > 0 {
		return nil, fmt.Errorf("manager: missing %s", strings.Join(missing, ", "))
	}
	fb := d.Feedback
	if fb == nil {
		fb = feedback.New(d.Registry)
	}
	return &Manager{
		registry:     d.Registry,
		security:     d.Security,
		permissions:  d.Permissions,
		grants:       d.Grants,
		dependencies: d.Dependencies,
		executor:     d.Executor,
		tester:       d.Tester,
		metrics:      d.Metrics,
		feedback:     fb,
		generator:    d.Generator,
		classifier:   d.Classifier,
		translator:   d.Translator,
		functionsDir: d.FunctionsDir,
		writer:       semaphore.NewWeighted(1),
	}, nil
}

// Registry exposes the function registry for read-only commands.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Feedback exposes the feedback renderer.
func (m *Manager) Feedback() *feedback.Manager { return m.feedback }

func (m *Manager) serialize(ctx context.Context, fn func() error) error {
	if err := m.writer.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire writer: %w", err)
	}
	defer m.writer.Release(1)
	return fn()
}

// SetEnabled enables or disables name.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return m.serialize(ctx, func() error {
		if enabled {
			return m.registry.Enable(name)
		}
		return m.registry.Disable(name)
	})
}

// Info aggregates everything known about a function.
type Info struct {
	Record       registry.Record
	Permissions  []permissions.Permission
	Dependencies dependencies.Record
	Metrics      metrics.Snapshot
}

// FunctionInfo returns the aggregate view of name.
func (m *Manager) FunctionInfo(name string) (Info, error) {
	rec, ok := m.registry.Get(name)
	if !ok {
		return Info{}, faults.New(faults.NotFound, name, "function not registered")
	}
	info := Info{Record: rec, Permissions: m.grants.Granted(name)}
	if deps, ok := m.dependencies.Lookup(name); ok {
		info.Dependencies = deps
	}
	snap, err := m.metrics.Metrics(name)
	if err != nil {
		return info, faults.Wrap(faults.Internal, name, err, "failed to read metrics")
	}
	info.Metrics = snap
	return info, nil
}

// RemoveFunction deletes name with its file, grants, dependency record and
// execution history.
func (m *Manager) RemoveFunction(ctx context.Context, name string) error {
	return m.serialize(ctx, func() error {
		if err := m.registry.Remove(name); err != nil {
			return err
		}
		if err := m.grants.Revoke(name); err != nil {
			logging.RouterError("failed to revoke grants of %s: %v", name, err)
		}
		if err := m.dependencies.Forget(name); err != nil {
			logging.RouterError("failed to forget dependencies of %s: %v", name, err)
		}
		if err := m.metrics.Forget(name); err != nil {
			logging.RouterError("failed to forget metrics of %s: %v", name, err)
		}
		logging.Audit().Log(logging.AuditEvent{EventType: logging.AuditFunctionRemoved, Function: name, Success: true})
		logging.Router("removed %s", name)
		return nil
	})
}

// InferType guesses the function type from description keywords.
func InferType(description string) string {
	d := strings.ToLower(description)
	hasAny := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(d, w) {
				return true
			}
		}
		return false
	}
	switch {
	case hasAny("juego", "game", "jugar"):
		return registry.TypeGame
	case hasAny("buscar", "internet", "wikipedia", "web"):
		return registry.TypeWebSearch
	case hasAny("archivo", "file", "crear", "escribir"):
		return registry.TypeFileOperation
	default:
		return registry.TypeDefault
	}
}

// deriveTags uses the words of the name plus the inferred type.
func deriveTags(name, functionType string) []string {
	var tags []string
	for _, part := range strings.Split(name, "_") {
		if len(part) >= 3 {
			tags = append(tags, part)
		}
	}
	if functionType != registry.TypeDefault {
		tags = append(tags, functionType)
	}
	return registry.NormalizeTags(tags)
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

// SanitizeName folds name into a lowercase snake_case Go identifier.
func SanitizeName(name string) (string, bool) {
	name = strings.ToLower(accentFolder.Replace(strings.TrimSpace(name)))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" || out[0] >= '0' && out[0] <= '9' || !token.IsIdentifier(out) {
		return "", false
	}
	return out, true
}

// uniqueName appends _2, _3 ... until name is free.
func (m *Manager) uniqueName(name string) string {
	if _, taken := m.registry.Get(name); !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if _, taken := m.registry.Get(candidate); !taken {
			logging.Router("name %s taken; using %s", name, candidate)
			return candidate
		}
	}
}
