// Package testloop accepts or repairs generated functions: a structural
// check, a zero-argument smoke run, and a bounded number of repair attempts
// where the last one asks for a full rewrite.
package testloop

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"lux/internal/logging"
	"lux/internal/sandbox"
	"lux/internal/security"
)

// State is a node of the acceptance state machine.
type State string

const (
	StateCandidate       State = "CANDIDATE"
	StateStructuralCheck State = "STRUCTURAL_CHECK"
	StateSmokeRun        State = "SMOKE_RUN"
	StateRepair          State = "REPAIR"
	StateAccepted        State = "ACCEPTED"
	StateExhausted       State = "EXHAUSTED"
)

// Repairer rewrites failing code. final asks for a full rewrite instead of a
// minimal patch.
type Repairer interface {
	Repair(ctx context.Context, code, failure string, final bool) (string, error)
}

// Runner executes source code for the smoke run.
type Runner interface {
	RunSource(ctx context.Context, code, name string, args ...string) sandbox.Result
}

// Inspector vets a candidate before anything interprets it.
type Inspector interface {
	Inspect(code, name string) security.Report
}

// Outcome is the result of Test. Code is the last candidate, verbatim.
type Outcome struct {
	Success  bool
	Code     string
	Result   interface{}
	Error    string
	Attempts int
	States   []State
}

// Loop is the test & repair state machine.
type Loop struct {
	runner      Runner
	repairer    Repairer
	inspector   Inspector
	maxAttempts int
}

// New creates a loop allowing maxAttempts repairs. Every candidate passes
// inspector before the smoke run.
func New(runner Runner, repairer Repairer, inspector Inspector, maxAttempts int) *Loop {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Loop{runner: runner, repairer: repairer, inspector: inspector, maxAttempts: maxAttempts}
}

// Test drives code to ACCEPTED or EXHAUSTED. Attempts run sequentially.
func (l *Loop) Test(ctx context.Context, name, code string) Outcome {
	out := Outcome{Code: code}
	timer := logging.StartTimer(logging.CategoryTestLoop, "test "+name)
	defer timer.Stop()

	failure, result := l.evaluate(ctx, name, code, &out)
	lastErr := failure

	for {
		if failure == "" {
			out.States = append(out.States, StateAccepted)
			out.Success = true
			out.Result = result
			logging.TestLoop("%s accepted after %d repairs", name, out.Attempts)
			return out
		}
		if out.Attempts >= l.maxAttempts || ctx.Err() != nil {
			out.States = append(out.States, StateExhausted)
			out.Error = "repair attempts exhausted: " + lastErr
			logging.TestLoop("%s exhausted after %d repairs: %s", name, out.Attempts, lastErr)
			return out
		}

		out.Attempts++
		out.States = append(out.States, StateRepair)
		final := out.Attempts == l.maxAttempts
		logging.TestLoopDebug("%s repair %d/%d (final=%v): %s", name, out.Attempts, l.maxAttempts, final, failure)

		repaired, err := l.repairer.Repair(ctx, out.Code, failure, final)
		switch {
		case err != nil:
			lastErr = fmt.Sprintf("repair attempt %d failed: %v", out.Attempts, err)
			continue
		case strings.TrimSpace(repaired) == "":
			lastErr = fmt.Sprintf("repair attempt %d returned no code", out.Attempts)
			continue
		}

		out.Code = repaired
		failure, result = l.evaluate(ctx, name, out.Code, &out)
		lastErr = failure
	}
}

// evaluate runs the security gate, the structural check and the smoke run.
// It returns the failure description, empty on success.
func (l *Loop) evaluate(ctx context.Context, name, code string, out *Outcome) (string, interface{}) {
	out.States = append(out.States, StateCandidate)
	if l.inspector != nil {
		if report := l.inspector.Inspect(code, name); !report.Safe() {
			return "security check failed: " + strings.Join(report.Messages(), "; "), nil
		}
	}

	out.States = append(out.States, StateStructuralCheck)
	if err := CheckStructure(name, code); err != nil {
		return err.Error(), nil
	}

	out.States = append(out.States, StateSmokeRun)
	res := l.runner.RunSource(ctx, code, name)
	if !res.Success {
		return fmt.Sprintf("smoke run failed (%s): %s", res.ErrorType, res.Error), nil
	}
	if _, ok := res.Result.(string); !ok {
		return fmt.Sprintf("function must return a string, got %T", res.Result), nil
	}
	return "", res.Result
}

// CheckStructure verifies that code parses, defines name with a doc comment,
// and handles errors somewhere in its body.
func CheckStructure(name, code string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name+".go", code, parser.ParseComments)
	if err != nil {
		return fmt.Errorf("code does not parse: %w", err)
	}

	var fn *ast.FuncDecl
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Recv == nil && fd.Name.Name == name {
			fn = fd
			break
		}
	}
	if fn == nil || fn.Body == nil {
		return fmt.Errorf("function %s not found in code", name)
	}
	if fn.Doc == nil || strings.TrimSpace(fn.Doc.Text()) == "" {
		return fmt.Errorf("function %s has no documentation", name)
	}
	if !handlesErrors(fn) {
		return fmt.Errorf("function %s has no error handling", name)
	}
	return nil
}

// handlesErrors looks for a nil comparison in an if, a recover() call, or a
// declared error result.
func handlesErrors(fn *ast.FuncDecl) bool {
	if fn.Type.Results != nil {
		for _, field := range fn.Type.Results.List {
			if ident, ok := field.Type.(*ast.Ident); ok && ident.Name == "error" {
				return true
			}
		}
	}

	found := false
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		if found {
			return false
		}
		switch x := n.(type) {
		case *ast.IfStmt:
			if bin, ok := x.Cond.(*ast.BinaryExpr); ok && bin.Op == token.NEQ && isNil(bin.Y) {
				found = true
			}
		case *ast.CallExpr:
			if ident, ok := x.Fun.(*ast.Ident); ok && ident.Name == "recover" {
				found = true
			}
		}
		return !found
	})
	return found
}

func isNil(e ast.Expr) bool {
	ident, ok := e.(*ast.Ident)
	return ok && ident.Name == "nil"
}
