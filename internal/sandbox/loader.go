package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"lux/internal/logging"
)

// Callable is a loaded generated function adapted to string arguments.
type Callable func(args ...string) (interface{}, error)

// deniedPackages are removed from the interpreter's symbol table.
var deniedPackages = map[string]bool{
	"os/exec":       true,
	"os/signal":     true,
	"syscall":       true,
	"net":           true,
	"net/http":      true,
	"net/http/cgi":  true,
	"net/http/fcgi": true,
	"net/rpc":       true,
	"net/smtp":      true,
	"plugin":        true,
	"runtime/debug": true,
	"runtime/cgo":   true,
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Loader interprets generated source with yaegi.
type Loader struct {
	// GoPath is the GOPATH-style tree installed modules are copied into.
	GoPath string
}

// symbols returns the stdlib exports minus the denied packages. Export keys
// are "<import path>/<package name>".
func symbols() interp.Exports {
	out := make(interp.Exports, len(stdlib.Symbols))
	for key, syms := range stdlib.Symbols {
		path := key
		if i := strings.LastIndex(key, "/"); i >= 0 {
			path = key[:i]
		}
		if deniedPackages[path] || (strings.HasPrefix(path, "net/") && path != "net/url" && path != "net/mail") {
			continue
		}
		out[key] = syms
	}
	return out
}

// LoadFunction reads path and loads the function called name.
func (l *Loader) LoadFunction(path, name string) (Callable, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read function file: %w", err)
	}
	return l.LoadSource(string(code), name)
}

// LoadSource evaluates code and adapts the entry point called name.
func (l *Loader) LoadSource(code, name string) (Callable, error) {
	var output bytes.Buffer
	i := interp.New(interp.Options{
		GoPath: l.GoPath,
		Stdout: &output,
		Stderr: &output,
	})
	if err := i.Use(symbols()); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}

	if _, err := i.Eval(code); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}

	v, err := i.Eval(name)
	if err != nil {
		v, err = i.Eval("main." + name)
	}
	if err != nil {
		return nil, fmt.Errorf("function %s not found: %w", name, err)
	}

	call, err := adapt(v)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}

	return func(args ...string) (interface{}, error) {
		defer func() {
			if output.Len() > 0 {
				logging.SandboxDebug("%s output: %s", name, strings.TrimSpace(output.String()))
				output.Reset()
			}
		}()
		return call(args...)
	}, nil
}

// adapt wraps a func value whose parameters are strings. Missing arguments
// become empty strings; extra arguments are dropped unless it is variadic.
func adapt(v reflect.Value) (Callable, error) {
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() != reflect.Func {
		return nil, errors.New("entry point is not a function")
	}

	t := v.Type()
	fixed := t.NumIn()
	if t.IsVariadic() {
		fixed--
		if t.In(fixed).Elem().Kind() != reflect.String {
			return nil, errors.New("variadic parameter must be ...string")
		}
	}
	for k := 0; k < fixed; k++ {
		if t.In(k).Kind() != reflect.String {
			return nil, fmt.Errorf("parameter %d must be a string, got %s", k+1, t.In(k))
		}
	}
	hasErr := t.NumOut() > 0 && t.Out(t.NumOut()-1).Implements(errorType)

	return func(args ...string) (interface{}, error) {
		in := make([]reflect.Value, 0, len(args))
		for k := 0; k < fixed; k++ {
			arg := ""
			if k < len(args) {
				arg = args[k]
			}
			in = append(in, reflect.ValueOf(arg).Convert(t.In(k)))
		}
		if t.IsVariadic() && len(args) > fixed {
			elem := t.In(fixed).Elem()
			for _, extra := range args[fixed:] {
				in = append(in, reflect.ValueOf(extra).Convert(elem))
			}
		}

		out := v.Call(in)

		if hasErr {
			if errVal := out[len(out)-1]; !errVal.IsNil() {
				return nil, errVal.Interface().(error)
			}
			out = out[:len(out)-1]
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out[0].Interface(), nil
	}, nil
}
