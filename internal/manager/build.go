package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"lux/internal/config"
	"lux/internal/dependencies"
	"lux/internal/llm"
	"lux/internal/logging"
	"lux/internal/metrics"
	"lux/internal/permissions"
	"lux/internal/registry"
	"lux/internal/sandbox"
	"lux/internal/security"
	"lux/internal/testloop"
)

// Assistant provides every language-model collaborator.
type Assistant interface {
	llm.CodeGenerator
	llm.Classifier
	llm.Translator
}

// Runtime is a Manager wired from configuration together with the
// resources it owns.
type Runtime struct {
	*Manager
	Config  *config.Config
	metrics *metrics.Manager
	watcher *registry.Watcher
}

// GoPath is the interpreter GOPATH under the sandbox directory.
func GoPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.SandboxDir, "gopath")
}

// Build wires every component from cfg. With watch set, the registry is
// reloaded when another process rewrites it.
func Build(ctx context.Context, cfg *config.Config, ai Assistant, watch bool) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.Paths

	reg, err := registry.Open(p.RegistryFile, p.BackupsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	grants, err := permissions.NewStore(p.PermissionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open grants: %w", err)
	}

	gopath := GoPath(cfg)
	deps, err := dependencies.NewManager(ctx, cfg.Dependencies.Allowed, dependencies.NewGoModInstaller(gopath), p.DependenciesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open dependency store: %w", err)
	}

	executor := sandbox.NewExecutor(sandbox.ConfigFrom(cfg, gopath))
	inspector := security.NewAnalyzer(security.ConfigFrom(cfg))
	tester := testloop.New(executor.WithTimeout(cfg.GetSmokeTimeout()), ai, inspector, cfg.Testing.MaxRepairAttempts)

	met, err := metrics.New(p.LogsDir, p.MetricsDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics: %w", err)
	}

	m, err := New(Deps{
		Registry:     reg,
		Security:     inspector,
		Permissions:  permissions.NewAnalyzer(),
		Grants:       grants,
		Dependencies: deps,
		Executor:     executor,
		Tester:       tester,
		Metrics:      met,
		Generator:    ai,
		Classifier:   ai,
		Translator:   ai,
		FunctionsDir: p.FunctionsDir,
	})
	if err != nil {
		met.Close()
		return nil, err
	}

	rt := &Runtime{Manager: m, Config: cfg, metrics: met}
	if watch {
		w, err := reg.Watch(ctx)
		if err != nil {
			logging.BootWarn("registry watcher disabled: %v", err)
		} else {
			rt.watcher = w
		}
	}
	logging.Boot("manager ready: %d functions, isolated=%v", len(reg.Names()), cfg.Execution.Isolated)
	return rt, nil
}

// Metrics exposes the metrics manager.
func (r *Runtime) Metrics() *metrics.Manager { return r.metrics }

// Close stops the watcher and flushes logs.
func (r *Runtime) Close() error {
	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			logging.RegistryError("failed to stop watcher: %v", err)
		}
	}
	return r.metrics.Close()
}
