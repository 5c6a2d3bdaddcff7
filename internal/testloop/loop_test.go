package testloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lux/internal/sandbox"
	"lux/internal/security"
)

type mockRepairer struct {
	RepairFunc func(ctx context.Context, code, failure string, final bool) (string, error)
	finals     []bool
	failures   []string
}

func (m *mockRepairer) Repair(ctx context.Context, code, failure string, final bool) (string, error) {
	m.finals = append(m.finals, final)
	m.failures = append(m.failures, failure)
	return m.RepairFunc(ctx, code, failure, final)
}

type mockRunner struct {
	RunSourceFunc func(ctx context.Context, code, name string, args ...string) sandbox.Result
}

func (m *mockRunner) RunSource(ctx context.Context, code, name string, args ...string) sandbox.Result {
	return m.RunSourceFunc(ctx, code, name, args...)
}

type mockInspector struct {
	InspectFunc func(code, name string) security.Report
}

func (m *mockInspector) Inspect(code, name string) security.Report {
	if m.InspectFunc == nil {
		return security.Report{Function: name}
	}
	return m.InspectFunc(code, name)
}

const goodSource = `package main

import "fmt"

// abrir_aplicacion abre una aplicación o sitio web.
func abrir_aplicacion(app string) (string, error) {
	if app == "" {
		return "No se indicó ninguna aplicación", nil
	}
	return fmt.Sprintf("Abriendo %s en el navegador", app), nil
}
`

const failingSource = `package main

import "fmt"

// abrir_aplicacion abre una aplicación o sitio web.
func abrir_aplicacion(app string) (string, error) {
	if app == "" {
		return "", fmt.Errorf("no application given")
	}
	return fmt.Sprintf("Abriendo %s en el navegador", app), nil
}
`

func executor() *sandbox.Executor {
	return sandbox.NewExecutor(sandbox.Config{Timeout: 5 * time.Second})
}

func TestAcceptedWithoutRepair(t *testing.T) {
	repairer := &mockRepairer{RepairFunc: func(context.Context, string, string, bool) (string, error) {
		t.Fatal("repair must not be called")
		return "", nil
	}}
	loop := New(executor(), repairer, &mockInspector{}, 4)

	out := loop.Test(context.Background(), "abrir_aplicacion", goodSource)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, "No se indicó ninguna aplicación", out.Result)
	assert.Equal(t, goodSource, out.Code)
	want := []State{StateCandidate, StateStructuralCheck, StateSmokeRun, StateAccepted}
	if diff := cmp.Diff(want, out.States); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestRepairedOnSecondAttempt(t *testing.T) {
	calls := 0
	repairer := &mockRepairer{RepairFunc: func(_ context.Context, code, failure string, final bool) (string, error) {
		calls++
		if calls == 1 {
			return failingSource, nil
		}
		return goodSource, nil
	}}
	loop := New(executor(), repairer, &mockInspector{}, 4)

	out := loop.Test(context.Background(), "abrir_aplicacion", failingSource)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, goodSource, out.Code)
	assert.Equal(t, []bool{false, false}, repairer.finals)
	assert.Contains(t, repairer.failures[0], "no application given")
}

func TestExhaustionKeepsLastSnapshot(t *testing.T) {
	snapshots := []string{
		"package main\n\n// v1 sin cuerpo.\nfunc otra() string { return \"\" }\n",
		"package main\n\nfunc abrir_aplicacion() string { return \"sin doc\" }\n",
		failingSource,
		"package main\n\n// abrir_aplicacion v4.\nfunc abrir_aplicacion() string { return \"sin errores\" }\n",
	}
	i := 0
	repairer := &mockRepairer{RepairFunc: func(context.Context, string, string, bool) (string, error) {
		s := snapshots[i]
		i++
		return s, nil
	}}
	loop := New(executor(), repairer, &mockInspector{}, 4)

	out := loop.Test(context.Background(), "abrir_aplicacion", "package main\n")
	assert.False(t, out.Success)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, snapshots[3], out.Code, "last code snapshot must be preserved verbatim")
	assert.Equal(t, "repair attempts exhausted: function abrir_aplicacion has no error handling", out.Error)
	assert.Equal(t, []bool{false, false, false, true}, repairer.finals, "only the last attempt is a full rewrite")
	assert.Equal(t, StateExhausted, out.States[len(out.States)-1])
}

func TestRepairFailuresCountAsAttempts(t *testing.T) {
	repairer := &mockRepairer{RepairFunc: func(_ context.Context, _, _ string, final bool) (string, error) {
		if final {
			return "   ", nil
		}
		return "", errors.New("quota exceeded")
	}}
	loop := New(executor(), repairer, &mockInspector{}, 3)

	out := loop.Test(context.Background(), "abrir_aplicacion", failingSource)
	assert.False(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, failingSource, out.Code)
	assert.Equal(t, "repair attempts exhausted: repair attempt 3 returned no code", out.Error)
}

func TestNonStringResultIsRepaired(t *testing.T) {
	runner := &mockRunner{RunSourceFunc: func(_ context.Context, code, _ string, _ ...string) sandbox.Result {
		if code == goodSource {
			return sandbox.Result{Success: true, Result: "ok"}
		}
		return sandbox.Result{Success: true, Result: 42}
	}}
	repairer := &mockRepairer{RepairFunc: func(context.Context, string, string, bool) (string, error) {
		return goodSource, nil
	}}

	out := New(runner, repairer, &mockInspector{}, 4).Test(context.Background(), "abrir_aplicacion", failingSource)
	require.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "function must return a string, got int", repairer.failures[0])
}

func TestSmokeTimeoutIsRepaired(t *testing.T) {
	runner := &mockRunner{RunSourceFunc: func(_ context.Context, code, _ string, _ ...string) sandbox.Result {
		if code == goodSource {
			return sandbox.Result{Success: true, Result: "ok"}
		}
		return sandbox.Result{ErrorType: sandbox.ErrorTimeout, Error: "execution exceeded the time limit of 10s"}
	}}
	repairer := &mockRepairer{RepairFunc: func(context.Context, string, string, bool) (string, error) {
		return goodSource, nil
	}}

	out := New(runner, repairer, &mockInspector{}, 4).Test(context.Background(), "abrir_aplicacion", failingSource)
	require.True(t, out.Success)
	assert.Equal(t, "smoke run failed (timeout): execution exceeded the time limit of 10s", repairer.failures[0])
}

func TestCheckStructure(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr string
	}{
		{"valid", goodSource, ""},
		{"parse error", "package main\nfunc abrir_aplicacion( {", "code does not parse"},
		{"missing function", "package main\n// otra.\nfunc otra() (string, error) { return \"\", nil }\n", "not found"},
		{"no doc", "package main\nfunc abrir_aplicacion() (string, error) { return \"\", nil }\n", "no documentation"},
		{"no error handling", "package main\n// abrir_aplicacion doc.\nfunc abrir_aplicacion() string { return \"\" }\n", "no error handling"},
		{"recover counts", "package main\n// abrir_aplicacion doc.\nfunc abrir_aplicacion() (s string) { defer func() { recover() }(); return \"\" }\n", ""},
		{"err check counts", "package main\nimport \"strconv\"\n// abrir_aplicacion doc.\nfunc abrir_aplicacion() string { _, err := strconv.Atoi(\"1\"); if err != nil { return \"\" }; return \"ok\" }\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStructure("abrir_aplicacion", tt.code)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const envSource = `package main

import (
	"fmt"
	"os"
)

// abrir_aplicacion abre una aplicación o sitio web.
func abrir_aplicacion(app string) (string, error) {
	if app == "" {
		return "", fmt.Errorf("no application given")
	}
	return fmt.Sprintf("Abriendo %s con %s", app, os.Getenv("BROWSER")), nil
}
`

func TestUnsafeRepairIsNeverRun(t *testing.T) {
	var ran []string
	runner := &mockRunner{RunSourceFunc: func(_ context.Context, code, _ string, _ ...string) sandbox.Result {
		ran = append(ran, code)
		return sandbox.Result{Error: "no application given", ErrorType: sandbox.ErrorRuntime}
	}}
	repairer := &mockRepairer{RepairFunc: func(context.Context, string, string, bool) (string, error) {
		return envSource, nil
	}}
	inspector := &mockInspector{InspectFunc: func(code, name string) security.Report {
		if code == envSource {
			return security.Report{Function: name, Violations: []security.Violation{{Kind: security.KindMaliciousPattern, Message: "environment_vars"}}}
		}
		return security.Report{Function: name}
	}}

	out := New(runner, repairer, inspector, 2).Test(context.Background(), "abrir_aplicacion", failingSource)
	assert.False(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []string{failingSource}, ran, "only the safe first draft may reach the runner")
	assert.Equal(t, "repair attempts exhausted: security check failed: malicious_pattern: environment_vars", out.Error)
	assert.Equal(t, "security check failed: malicious_pattern: environment_vars", repairer.failures[1])
	want := []State{
		StateCandidate, StateStructuralCheck, StateSmokeRun,
		StateRepair, StateCandidate,
		StateRepair, StateCandidate,
		StateExhausted,
	}
	if diff := cmp.Diff(want, out.States); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzerGatesEveryCandidate(t *testing.T) {
	runner := &mockRunner{RunSourceFunc: func(context.Context, string, string, ...string) sandbox.Result {
		t.Fatal("unsafe code must not be interpreted")
		return sandbox.Result{}
	}}
	repairer := &mockRepairer{RepairFunc: func(context.Context, string, string, bool) (string, error) {
		return envSource, nil
	}}

	out := New(runner, repairer, security.NewAnalyzer(security.DefaultConfig()), 1).Test(context.Background(), "abrir_aplicacion", envSource)
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.Error, "security check failed")
	assert.Contains(t, out.Error, "environment_vars")
}
