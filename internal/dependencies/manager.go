// Package dependencies resolves the third-party modules a generated function
// imports against a pinned allow-list, installs them into the interpreter's
// GOPATH and records them per function.
package dependencies

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"lux/internal/faults"
	"lux/internal/jsonstore"
	"lux/internal/logging"
	"lux/internal/security"
)

// Module is a module path pinned to a version.
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

func (m Module) String() string { return m.Path + "@" + m.Version }

// Analysis lists modules to install and imports that may not be used.
type Analysis struct {
	Required  []Module
	Conflicts []string
}

// Record is the persisted dependency set of one function.
type Record struct {
	Dependencies []string          `json:"dependencies"`
	Versions     map[string]string `json:"versions"`
}

// Installer fetches modules for the interpreter.
type Installer interface {
	Install(ctx context.Context, module, version string) error
	ListInstalled(ctx context.Context) (map[string]string, error)
}

// Manager owns the allow-list, the installed snapshot and the record store.
type Manager struct {
	allowed   map[string]string
	installer Installer
	path      string

	mu        sync.Mutex
	installed map[string]string
	records   map[string]Record
}

// NewManager loads the record store at path and takes an installed snapshot.
func NewManager(ctx context.Context, allowed map[string]string, installer Installer, path string) (*Manager, error) {
	m := &Manager{
		allowed:   make(map[string]string, len(allowed)),
		installer: installer,
		path:      path,
		installed: make(map[string]string),
		records:   make(map[string]Record),
	}
	for module, version := range allowed {
		m.allowed[module] = version
	}

	if _, err := jsonstore.Read(path, &m.records); err != nil {
		return nil, err
	}
	if m.records == nil {
		m.records = make(map[string]Record)
	}

	if err := m.Refresh(ctx); err != nil {
		logging.DependenciesError("installed snapshot unavailable: %v", err)
	}
	return m, nil
}

// Refresh reloads the installed snapshot from the installer.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.installer == nil {
		return nil
	}
	installed, err := m.installer.ListInstalled(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.installed = installed
	m.mu.Unlock()
	return nil
}

// Analyze classifies the non-standard imports of code.
func (m *Manager) Analyze(code string) (Analysis, error) {
	src, err := security.ParseSource(code)
	if err != nil {
		return Analysis{}, faults.Wrap(faults.ParseError, "", err, "failed to parse code")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var a Analysis
	seenModule := make(map[string]bool)
	seenConflict := make(map[string]bool)
	for _, path := range src.ImportPaths() {
		if IsStdlib(path) {
			continue
		}
		module, ok := m.resolveLocked(path)
		if !ok {
			if !seenConflict[path] {
				seenConflict[path] = true
				a.Conflicts = append(a.Conflicts, path)
			}
			continue
		}
		if seenModule[module] {
			continue
		}
		seenModule[module] = true

		pinned := m.allowed[module]
		have, installed := m.installed[module]
		if !installed || semver.Compare(have, pinned) < 0 {
			a.Required = append(a.Required, Module{Path: module, Version: pinned})
		}
	}
	logging.Get(logging.CategoryDependencies).Debug("analysis: required=%v conflicts=%v", a.Required, a.Conflicts)
	return a, nil
}

// resolveLocked returns the longest allow-listed module containing path.
func (m *Manager) resolveLocked(path string) (string, bool) {
	best := ""
	for module := range m.allowed {
		if (path == module || strings.HasPrefix(path, module+"/")) && len(module) > len(best) {
			best = module
		}
	}
	return best, best != ""
}

// IsStdlib reports whether an import path belongs to the standard library.
func IsStdlib(path string) bool {
	first := strings.SplitN(path, "/", 2)[0]
	return !strings.Contains(first, ".")
}

// Install installs every module at its pinned version. The first failure
// aborts the batch.
func (m *Manager) Install(ctx context.Context, modules []Module) error {
	if len(modules) == 0 {
		return nil
	}
	if m.installer == nil {
		return faults.New(faults.DependencyInstallFailure, "", "no installer configured")
	}

	for _, mod := range modules {
		logging.Dependencies("installing %s", mod)
		if err := m.installer.Install(ctx, mod.Path, mod.Version); err != nil {
			logging.DependenciesError("install %s failed: %v", mod, err)
			return faults.Wrap(faults.DependencyInstallFailure, "", err, fmt.Sprintf("failed to install %s", mod))
		}
	}
	if err := m.Refresh(ctx); err != nil {
		logging.DependenciesError("refresh after install failed: %v", err)
	}
	return nil
}

// Record stores the modules used by name together with their pinned versions.
func (m *Manager) Record(name string, modules []Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := Record{Dependencies: []string{}, Versions: map[string]string{}}
	for _, mod := range modules {
		rec.Dependencies = append(rec.Dependencies, mod.Path)
		if v, ok := m.allowed[mod.Path]; ok {
			rec.Versions[mod.Path] = v
		}
	}
	sort.Strings(rec.Dependencies)
	m.records[name] = rec
	return jsonstore.Write(m.path, m.records)
}

// Lookup returns the record of name.
func (m *Manager) Lookup(name string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	return rec, ok
}

// Forget removes the record of name.
func (m *Manager) Forget(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		return nil
	}
	delete(m.records, name)
	return jsonstore.Write(m.path, m.records)
}

// Modules returns the allow-listed modules imported by code, whether or not
// they still need installing.
func (m *Manager) Modules(code string) ([]Module, error) {
	src, err := security.ParseSource(code)
	if err != nil {
		return nil, faults.Wrap(faults.ParseError, "", err, "failed to parse code")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []Module
	for _, path := range src.ImportPaths() {
		if IsStdlib(path) {
			continue
		}
		if module, ok := m.resolveLocked(path); ok && !seen[module] {
			seen[module] = true
			out = append(out, Module{Path: module, Version: m.allowed[module]})
		}
	}
	return out, nil
}
