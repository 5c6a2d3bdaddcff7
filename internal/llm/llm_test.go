package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockModel struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	prompts      []string
}

func (m *mockModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

func reply(s string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return s, nil }
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  package main\n", want: "package main"},
		{name: "go fence", in: "```go\npackage main\n\nfunc f() {}\n```", want: "package main\n\nfunc f() {}"},
		{name: "bare fence", in: "```\nNO\n```", want: "NO"},
		{name: "text around", in: "Aquí está:\n```go\npackage main\n```\nListo.", want: "package main"},
		{name: "crlf", in: "```go\r\npackage main\r\n```", want: "package main"},
		{name: "unterminated", in: "```go\npackage main", want: "package main"},
		{name: "single line", in: "```NO```", want: "NO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestGenerateCode(t *testing.T) {
	m := &mockModel{GenerateFunc: reply("```go\npackage main\n\nfunc abrir_aplicacion() {}\n```")}
	a := NewAssistant(m)

	code, err := a.GenerateCode(context.Background(), "abrir_aplicacion", "abre una aplicación o sitio web")
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc abrir_aplicacion() {}", code)

	require.Len(t, m.prompts, 1)
	assert.Contains(t, m.prompts[0], "NOMBRE: abrir_aplicacion")
	assert.Contains(t, m.prompts[0], "se llama exactamente abrir_aplicacion")
	assert.Contains(t, m.prompts[0], "func abrir_aplicacion(args ...string) (string, error)")
	assert.Contains(t, m.prompts[0], `fmt.Sprintf("Resultado para %s", args[0])`)
	assert.NotContains(t, m.prompts[0], "%!")
}

func TestGenerateCodeError(t *testing.T) {
	m := &mockModel{GenerateFunc: func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	_, err := NewAssistant(m).GenerateCode(context.Background(), "f", "d")
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestRepairPromptFinal(t *testing.T) {
	tests := []struct {
		final bool
		want  string
	}{
		{final: false, want: "Corrige solo los errores encontrados"},
		{final: true, want: "Genera el código completamente nuevo"},
	}
	for _, tt := range tests {
		m := &mockModel{GenerateFunc: reply("package main")}
		out, err := NewAssistant(m).Repair(context.Background(), "package main // broken", "smoke run failed", tt.final)
		require.NoError(t, err)
		assert.Equal(t, "package main", out)
		assert.Contains(t, m.prompts[0], tt.want)
		assert.Contains(t, m.prompts[0], "smoke run failed")
		assert.Contains(t, m.prompts[0], "package main // broken")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{name: "yes with extra", reply: "YES - abrir_aplicacion youtube\n", want: "YES - abrir_aplicacion youtube"},
		{name: "quoted", reply: "\"NEW - contar_palabras cuenta palabras\"", want: "NEW - contar_palabras cuenta palabras"},
		{name: "leading blank lines", reply: "\n\nNO", want: "NO"},
		{name: "empty", reply: "   ", want: "NO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockModel{GenerateFunc: reply(tt.reply)}
			got, err := NewAssistant(m).Classify(context.Background(), "abre youtube", "- abrir_aplicacion: abre apps")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, m.prompts[0], "- abrir_aplicacion: abre apps")
			assert.Contains(t, m.prompts[0], "abre youtube")
		})
	}
}

func TestClassifyEmptyListing(t *testing.T) {
	m := &mockModel{GenerateFunc: reply("NO")}
	_, err := NewAssistant(m).Classify(context.Background(), "hola", "")
	require.NoError(t, err)
	assert.Contains(t, m.prompts[0], "(ninguna)")
}

func TestTranslateFallsBackToRaw(t *testing.T) {
	failing := &mockModel{GenerateFunc: func(context.Context, string) (string, error) {
		return "", errors.New("offline")
	}}
	out, err := NewAssistant(failing).Translate(context.Background(), "youtube abierto", "abre youtube")
	assert.Error(t, err)
	assert.Equal(t, "youtube abierto", out)

	empty := &mockModel{GenerateFunc: reply("")}
	out, err = NewAssistant(empty).Translate(context.Background(), "youtube abierto", "abre youtube")
	assert.NoError(t, err)
	assert.Equal(t, "youtube abierto", out)

	ok := &mockModel{GenerateFunc: reply("¡Listo! Abrí YouTube.\n")}
	out, err = NewAssistant(ok).Translate(context.Background(), "youtube abierto", "abre youtube")
	assert.NoError(t, err)
	assert.Equal(t, "¡Listo! Abrí YouTube.", out)
}

func TestNewGeminiModelRequiresKey(t *testing.T) {
	_, err := NewGeminiModel(context.Background(), "", "", 0)
	assert.Error(t, err)
}

func TestOffline(t *testing.T) {
	o := Offline{Err: errors.New("no API key")}
	_, err := o.GenerateCode(context.Background(), "f", "d")
	assert.EqualError(t, err, "no API key")

	verdict, err := o.Classify(context.Background(), "hola", "")
	assert.Error(t, err)
	assert.Equal(t, "NO", verdict)

	out, err := o.Translate(context.Background(), "raw", "ctx")
	assert.Error(t, err)
	assert.Equal(t, "raw", out)
}
