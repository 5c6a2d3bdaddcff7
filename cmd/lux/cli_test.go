package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lux/internal/config"
	"lux/internal/manager"
)

const wordCount = `package main

import (
	"fmt"
	"strings"
)

// contar_palabras cuenta las palabras de un texto.
func contar_palabras(args ...string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "No se indicó ningún texto", nil
	}
	return fmt.Sprintf("%d palabras", len(strings.Fields(strings.Join(args, " ")))), nil
}
`

// scriptedAssistant answers every classification with classify and every
// generation with code.
type scriptedAssistant struct {
	classify string
	code     string
}

func (s *scriptedAssistant) GenerateCode(context.Context, string, string) (string, error) {
	return s.code, nil
}

func (s *scriptedAssistant) Repair(_ context.Context, code, _ string, _ bool) (string, error) {
	return code, nil
}

func (s *scriptedAssistant) Classify(context.Context, string, string) (string, error) {
	if s.classify == "" {
		return "NO", nil
	}
	return s.classify, nil
}

func (s *scriptedAssistant) Translate(_ context.Context, raw, _ string) (string, error) {
	return raw, nil
}

func setupCLI(t *testing.T) *scriptedAssistant {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LUX_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("NO_COLOR", "1")

	ai := &scriptedAssistant{code: wordCount}
	prev := newAssistant
	newAssistant = func(context.Context, *config.Config) manager.Assistant { return ai }
	t.Cleanup(func() { newAssistant = prev })

	configPath = filepath.Join(dir, "lux.yaml")
	return ai
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", configPath))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestListEmpty(t *testing.T) {
	setupCLI(t)
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No functions registered.")
}

func TestFunctionLifecycle(t *testing.T) {
	ai := setupCLI(t)

	out, err := execute(t, "create", "contar_palabras", "cuenta", "las", "palabras")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Created contar_palabras")
	assert.Contains(t, out, "first run:    No se indicó ningún texto")

	out, err = execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "contar_palabras")
	assert.Contains(t, out, "enabled")

	out, err = execute(t, "run", "contar_palabras", "hola", "mundo")
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 palabras")

	out, err = execute(t, "stats", "contar_palabras")
	require.NoError(t, err)
	assert.Contains(t, out, "uses:         1")

	out, err = execute(t, "search", "palabras")
	require.NoError(t, err)
	assert.Contains(t, out, "contar_palabras")

	_, err = execute(t, "disable", "contar_palabras")
	require.NoError(t, err)
	ai.classify = "YES - contar_palabras hola"
	out, err = execute(t, "ask", "cuenta", "hola")
	require.NoError(t, err)
	assert.Contains(t, out, "está deshabilitada")

	out, err = execute(t, "metrics", "contar_palabras")
	require.NoError(t, err)
	assert.Contains(t, out, "executions:   1 (1 ok, 0 errors)")

	_, err = execute(t, "remove", "contar_palabras")
	require.NoError(t, err)
	_, err = execute(t, "info", "contar_palabras")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No encontré la función 'contar_palabras'")
}

func TestAskNotHandled(t *testing.T) {
	setupCLI(t)
	out, err := execute(t, "ask", "hola")
	require.NoError(t, err)
	assert.Contains(t, out, "No hay ninguna función para esta petición.")
}

func TestChatLoop(t *testing.T) {
	setupCLI(t)
	logger = zap.NewNop()
	var err error
	cfg, err = config.Load(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	rt, err := openRuntime(ctx, false)
	require.NoError(t, err)
	defer rt.Close()

	var out bytes.Buffer
	in := strings.NewReader("\nhola\nsalir\nnunca llega\n")
	require.NoError(t, chatLoop(ctx, in, &out, rt))

	assert.Equal(t, 1, strings.Count(out.String(), "No hay ninguna función"))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"corto", 10, "corto"},
		{"línea\nnueva", 20, "línea nueva"},
		{"abcdefghij", 5, "abcd…"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.in, tt.n), func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}
}
