package dependencies

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lux/internal/faults"
)

type mockInstaller struct {
	InstallFunc       func(ctx context.Context, module, version string) error
	ListInstalledFunc func(ctx context.Context) (map[string]string, error)
	installed         map[string]string
	calls             []string
}

func (m *mockInstaller) Install(ctx context.Context, module, version string) error {
	m.calls = append(m.calls, module+"@"+version)
	if m.InstallFunc != nil {
		if err := m.InstallFunc(ctx, module, version); err != nil {
			return err
		}
	}
	if m.installed == nil {
		m.installed = make(map[string]string)
	}
	m.installed[module] = version
	return nil
}

func (m *mockInstaller) ListInstalled(ctx context.Context) (map[string]string, error) {
	if m.ListInstalledFunc != nil {
		return m.ListInstalledFunc(ctx)
	}
	out := make(map[string]string, len(m.installed))
	for k, v := range m.installed {
		out[k] = v
	}
	return out, nil
}

var allowList = map[string]string{
	"github.com/google/uuid":        "v1.6.0",
	"github.com/dustin/go-humanize": "v1.0.1",
}

const humanizeSource = `package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/google/uuid"
	"github.com/evil/miner"
)

func tamano(x string) string {
	return fmt.Sprint(humanize.Bytes(1), english.Plural(2, "x", ""), uuid.NewString(), miner.Run, strings.ToUpper(x))
}
`

func newManager(t *testing.T, inst Installer) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), allowList, inst, filepath.Join(t.TempDir(), "dependencies.json"))
	require.NoError(t, err)
	return m
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name      string
		installed map[string]string
		required  []Module
	}{
		{
			name:      "nothing installed",
			installed: nil,
			required: []Module{
				{Path: "github.com/dustin/go-humanize", Version: "v1.0.1"},
				{Path: "github.com/google/uuid", Version: "v1.6.0"},
			},
		},
		{
			name:      "older version installed",
			installed: map[string]string{"github.com/dustin/go-humanize": "v1.0.0", "github.com/google/uuid": "v1.6.0"},
			required:  []Module{{Path: "github.com/dustin/go-humanize", Version: "v1.0.1"}},
		},
		{
			name:      "newer version installed",
			installed: map[string]string{"github.com/dustin/go-humanize": "v1.1.0", "github.com/google/uuid": "v1.6.0"},
			required:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, &mockInstaller{installed: tt.installed})
			a, err := m.Analyze(humanizeSource)
			require.NoError(t, err)
			assert.Equal(t, tt.required, a.Required)
			assert.Equal(t, []string{"github.com/evil/miner"}, a.Conflicts)
		})
	}
}

func TestAnalyzeStdlibOnly(t *testing.T) {
	m := newManager(t, &mockInstaller{})
	a, err := m.Analyze("package main\nimport (\"fmt\"; \"encoding/json\")\nvar _ = fmt.Sprint\nvar _ = json.Marshal\n")
	require.NoError(t, err)
	assert.Empty(t, a.Required)
	assert.Empty(t, a.Conflicts)
}

func TestAnalyzeParseError(t *testing.T) {
	m := newManager(t, &mockInstaller{})
	_, err := m.Analyze("package")
	assert.Equal(t, faults.ParseError, faults.KindOf(err))
}

func TestIsStdlib(t *testing.T) {
	assert.True(t, IsStdlib("fmt"))
	assert.True(t, IsStdlib("net/http"))
	assert.False(t, IsStdlib("github.com/google/uuid"))
	assert.False(t, IsStdlib("gopkg.in/yaml.v3"))
}

func TestInstall(t *testing.T) {
	inst := &mockInstaller{}
	m := newManager(t, inst)

	a, err := m.Analyze(humanizeSource)
	require.NoError(t, err)
	require.NoError(t, m.Install(context.Background(), a.Required))
	assert.Equal(t, []string{"github.com/dustin/go-humanize@v1.0.1", "github.com/google/uuid@v1.6.0"}, inst.calls)

	a, err = m.Analyze(humanizeSource)
	require.NoError(t, err)
	assert.Empty(t, a.Required, "snapshot must be refreshed after install")
}

func TestInstallAbortsOnFirstFailure(t *testing.T) {
	inst := &mockInstaller{
		InstallFunc: func(ctx context.Context, module, version string) error {
			return errors.New("network down")
		},
	}
	m := newManager(t, inst)

	err := m.Install(context.Background(), []Module{
		{Path: "github.com/google/uuid", Version: "v1.6.0"},
		{Path: "github.com/dustin/go-humanize", Version: "v1.0.1"},
	})
	require.Error(t, err)
	assert.Equal(t, faults.DependencyInstallFailure, faults.KindOf(err))
	assert.Len(t, inst.calls, 1)
}

func TestRecordLookupForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dependencies.json")
	m, err := NewManager(context.Background(), allowList, &mockInstaller{}, path)
	require.NoError(t, err)

	mods, err := m.Modules(humanizeSource)
	require.NoError(t, err)
	require.NoError(t, m.Record("tamano", mods))

	reloaded, err := NewManager(context.Background(), allowList, &mockInstaller{}, path)
	require.NoError(t, err)
	rec, ok := reloaded.Lookup("tamano")
	require.True(t, ok)
	assert.Equal(t, []string{"github.com/dustin/go-humanize", "github.com/google/uuid"}, rec.Dependencies)
	assert.Equal(t, "v1.6.0", rec.Versions["github.com/google/uuid"])

	require.NoError(t, reloaded.Forget("tamano"))
	_, ok = reloaded.Lookup("tamano")
	assert.False(t, ok)
}

func TestGoModInstaller(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake go tool is a shell script")
	}

	root := t.TempDir()
	modDir := filepath.Join(root, "cache", "example.com", "greet@v1.0.0")
	require.NoError(t, os.MkdirAll(modDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "greet.go"), []byte("package greet\n"), 0444))

	fakeGo := filepath.Join(root, "go")
	script := "#!/bin/sh\necho '{\"Path\":\"example.com/greet\",\"Version\":\"v1.0.0\",\"Dir\":\"" + modDir + "\"}'\n"
	require.NoError(t, os.WriteFile(fakeGo, []byte(script), 0755))

	g := NewGoModInstaller(filepath.Join(root, "gopath"))
	g.GoBinary = fakeGo

	require.NoError(t, g.Install(context.Background(), "example.com/greet", "v1.0.0"))
	assert.FileExists(t, filepath.Join(root, "gopath", "src", "example.com", "greet", "greet.go"))

	installed, err := g.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"example.com/greet": "v1.0.0"}, installed)
}

func TestGoModInstallerReportsError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake go tool is a shell script")
	}

	root := t.TempDir()
	fakeGo := filepath.Join(root, "go")
	script := "#!/bin/sh\necho '{\"Path\":\"example.com/none\",\"Error\":\"not found\"}'\nexit 1\n"
	require.NoError(t, os.WriteFile(fakeGo, []byte(script), 0755))

	g := NewGoModInstaller(filepath.Join(root, "gopath"))
	g.GoBinary = fakeGo

	err := g.Install(context.Background(), "example.com/none", "v0.1.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
