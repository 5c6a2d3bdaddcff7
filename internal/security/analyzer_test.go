package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lux/internal/config"
)

const openAppSource = `package main

import "fmt"

// abrir_aplicacion abre una aplicación o sitio web.
func abrir_aplicacion(app string) (string, error) {
	if app == "" {
		return "", fmt.Errorf("no application given")
	}
	return fmt.Sprintf("Abriendo %s en el navegador", app), nil
}
`

func kinds(vs []Violation) []Kind {
	out := make([]Kind, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Kind)
	}
	return out
}

func TestAnalyzeCleanFunction(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	report := a.Inspect(openAppSource, "abrir_aplicacion")
	assert.True(t, report.Safe(), "unexpected violations: %v", report.Messages())
	assert.Empty(t, report.Sensitive)
}

func TestAnalyzeParseError(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	vs := a.Analyze("package main\nfunc broken( {", "broken")
	require.Len(t, vs, 1)
	assert.Equal(t, KindError, vs[0].Kind)
	assert.Equal(t, 2, vs[0].Line)
}

func TestAnalyzeImports(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	code := `package main

import (
	"fmt"
	"net"
	"image/png"
)

// probe comprueba la red.
func probe(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	_ = png.Decode
	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(addrs), nil
}
`
	vs := a.Analyze(code, "probe")
	var imports []Violation
	for _, v := range vs {
		if v.Kind == KindImport {
			imports = append(imports, v)
		}
	}
	require.Len(t, imports, 2, "violations: %v", vs)
	assert.Equal(t, "prohibited import: net", imports[0].Message)
	assert.Equal(t, 5, imports[0].Line)
	assert.Equal(t, "import not allowed: image/png", imports[1].Message)
	assert.Equal(t, 6, imports[1].Line)
}

func TestAnalyzeAllowedModule(t *testing.T) {
	cfg := config.DefaultConfig()
	a := NewAnalyzer(ConfigFrom(cfg))
	code := `package main

import (
	"fmt"

	"github.com/google/uuid"
)

// nuevo_id genera un identificador.
func nuevo_id(prefix string) (string, error) {
	if prefix == "" {
		prefix = "id"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()), nil
}
`
	assert.Empty(t, a.Analyze(code, "nuevo_id"))
	assert.NotEmpty(t, NewAnalyzer(DefaultConfig()).Analyze(code, "nuevo_id"))
}

func TestAnalyzeDangerousCalls(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	code := `package main

// run evalua una expresion.
func run(expr string) (string, error) {
	if expr == "" {
		return "", nil
	}
	return vm.Eval(expr), nil
}
`
	vs := a.Analyze(code, "run")
	require.Contains(t, kinds(vs), KindDangerousCall)
	for _, v := range vs {
		if v.Kind == KindDangerousCall {
			assert.Equal(t, "dangerous call to vm.Eval()", v.Message)
			assert.Equal(t, 8, v.Line)
		}
	}
}

func TestAnalyzeFileAccess(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		flagged bool
	}{
		{"allowed dir", "resources/notes.txt", false},
		{"dot prefix", "./temp/out.txt", false},
		{"absolute", "/etc/passwd", true},
		{"escape", "resources/../../secret", true},
		{"other dir", "home/user/file", true},
		{"windows drive", `C:\\Windows\\win.ini`, true},
	}

	a := NewAnalyzer(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := `package main

import "os"

// leer lee un archivo.
func leer(x string) (string, error) {
	data, err := os.ReadFile("` + tt.path + `")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
`
			vs := a.Analyze(code, "leer")
			assert.Equal(t, tt.flagged, containsKind(vs, KindFileAccess), "violations: %v", vs)
		})
	}
}

func TestAnalyzeLoops(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	unbounded := `package main

// contar cuenta.
func contar(x string) (string, error) {
	n := 0
	for {
		n++
	}
	if x != "" {
		return x, nil
	}
	return "", nil
}
`
	vs := a.Analyze(unbounded, "contar")
	require.Contains(t, kinds(vs), KindInfiniteLoop)

	bounded := `package main

// buscar busca.
func buscar(x string) (string, error) {
	for i := 0; i < 10; i++ {
		if i > 5 {
			break
		}
	}
	if x == "" {
		return "", nil
	}
	return x, nil
}
`
	assert.NotContains(t, kinds(a.Analyze(bounded, "buscar")), KindInfiniteLoop)
}

func TestAnalyzeResourceUsage(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	code := `package main

// anidar anida.
func anidar(x string) (string, error) {
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				return x, nil
			}
		}
	}
	if x == "" {
		return "", nil
	}
	return x, nil
}
`
	vs := a.Analyze(code, "anidar")
	var usage []Violation
	for _, v := range vs {
		if v.Kind == KindResourceUsage {
			usage = append(usage, v)
		}
	}
	require.Len(t, usage, 1, "violations: %v", vs)
	assert.Equal(t, 7, usage[0].Line)

	var b strings.Builder
	b.WriteString("package main\n\n// muchos usa muchos nombres.\nfunc muchos(x string) (string, error) {\n")
	for i := 0; i < 60; i++ {
		b.WriteString("\tv" + strings.Repeat("a", i+1) + " := x\n\t_ = v" + strings.Repeat("a", i+1) + "\n")
	}
	b.WriteString("\tif x == \"\" {\n\t\treturn \"\", nil\n\t}\n\treturn x, nil\n}\n")
	assert.Contains(t, kinds(a.Analyze(b.String(), "muchos")), KindResourceUsage)
}

func TestAnalyzeMaliciousPatterns(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	code := `package main

import (
	"fmt"
	"os"
)

// entorno lee el entorno.
func entorno(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	return os.Getenv(key), nil
}
`
	vs := a.Analyze(code, "entorno")
	require.Len(t, vs, 1, "violations: %v", vs)
	assert.Equal(t, KindMaliciousPattern, vs[0].Kind)
	assert.Contains(t, vs[0].Message, "environment_vars")
	assert.Equal(t, 13, vs[0].Line)
}

func TestAnalyzeInputValidation(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	code := `package main

import "fmt"

// saludar saluda.
func saludar(name string) (string, error) {
	return fmt.Sprintf("hola %s", name), nil
}
`
	assert.Equal(t, []Kind{KindInputValidation}, kinds(a.Analyze(code, "saludar")))
}

func TestAnalyzeInputSanitization(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	code := `package main

import (
	"bufio"
	"os"
)

// leer_linea lee de la terminal.
func leer_linea(x string) (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, nil
}
`
	vs := a.Analyze(code, "leer_linea")
	require.Equal(t, []Kind{KindInputSanitization}, kinds(vs))
	assert.Equal(t, 10, vs[0].Line)
}

func TestInspectSensitiveOperations(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	code := `package main

import "os"

// guardar guarda una nota.
func guardar(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	if err := os.WriteFile("resources/nota.txt", []byte(text), 0o644); err != nil {
		return "", err
	}
	return "ok", nil
}
`
	report := a.Inspect(code, "guardar")
	require.True(t, report.Safe(), "violations: %v", report.Messages())
	require.Len(t, report.Sensitive, 1)
	assert.Equal(t, "file", report.Sensitive[0].Category)
	assert.Equal(t, []string{"file_read", "file_write"}, report.Sensitive[0].Permissions)
	assert.Equal(t, 10, report.Sensitive[0].Line)
}

func TestRunCheckRecoversPanic(t *testing.T) {
	out := runCheck("boom", func() []Violation {
		panic("kaboom")
	})
	assert.Nil(t, out)
}

func containsKind(vs []Violation, k Kind) bool {
	for _, v := range vs {
		if v.Kind == k {
			return true
		}
	}
	return false
}
