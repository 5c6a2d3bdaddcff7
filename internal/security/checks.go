package security

import (
	"fmt"
	"go/ast"
	"go/token"
	"path"
	"strconv"
	"strings"
)

// checkFileAccess confines literal paths passed to os file calls.
func (a *Analyzer) checkFileAccess(src *Source, _ string) []Violation {
	var out []Violation
	for _, c := range src.Calls {
		if !fileCalls[c.Callee] || len(c.Expr.Args) == 0 {
			continue
		}
		lit, ok := c.Expr.Args[0].(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			continue
		}
		p, err := strconv.Unquote(lit.Value)
		if err != nil {
			continue
		}
		if !a.pathAllowed(p) {
			out = append(out, Violation{
				Kind:    KindFileAccess,
				Message: fmt.Sprintf("file access outside allowed directories: %s", p),
				Line:    c.Line,
			})
		}
	}
	return out
}

func (a *Analyzer) pathAllowed(p string) bool {
	slashed := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(slashed, "/") || (len(slashed) > 1 && slashed[1] == ':') {
		return false
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	first := strings.SplitN(cleaned, "/", 2)[0]
	for _, dir := range a.config.AllowedDirs {
		if first == dir {
			return true
		}
	}
	return false
}

// checkLoops flags loops whose body can never break or return.
func (a *Analyzer) checkLoops(src *Source, _ string) []Violation {
	var out []Violation
	ast.Inspect(src.File(), func(n ast.Node) bool {
		var body *ast.BlockStmt
		switch loop := n.(type) {
		case *ast.ForStmt:
			body = loop.Body
		case *ast.RangeStmt:
			body = loop.Body
		default:
			return true
		}
		if !hasExit(body) {
			out = append(out, Violation{
				Kind:    KindInfiniteLoop,
				Message: "possible infinite loop: body has no break or return",
				Line:    src.Line(n.Pos()),
			})
		}
		return true
	})
	return out
}

func hasExit(body *ast.BlockStmt) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		if found {
			return false
		}
		switch s := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.ReturnStmt:
			found = true
		case *ast.BranchStmt:
			if s.Tok == token.BREAK {
				found = true
			}
		}
		return !found
	})
	return found
}

// checkResourceUsage bounds loop nesting and the number of distinct names.
func (a *Analyzer) checkResourceUsage(src *Source, _ string) []Violation {
	var out []Violation

	var walk func(n ast.Node, depth int)
	walk = func(n ast.Node, depth int) {
		ast.Inspect(n, func(child ast.Node) bool {
			if child == n {
				return true
			}
			switch child.(type) {
			case *ast.ForStmt, *ast.RangeStmt:
				if depth+1 > a.config.MaxLoopDepth {
					out = append(out, Violation{
						Kind:    KindResourceUsage,
						Message: fmt.Sprintf("too many nested loops (depth %d)", depth+1),
						Line:    src.Line(child.Pos()),
					})
				}
				walk(child, depth+1)
				return false
			}
			return true
		})
	}
	walk(src.File(), 0)

	names := make(map[string]struct{})
	for _, decl := range src.File().Decls {
		ast.Inspect(decl, func(n ast.Node) bool {
			if ident, ok := n.(*ast.Ident); ok && ident.Name != "_" {
				names[ident.Name] = struct{}{}
			}
			return true
		})
	}
	if len(names) > a.config.MaxDistinctNames {
		out = append(out, Violation{
			Kind:    KindResourceUsage,
			Message: fmt.Sprintf("too many distinct names (%d)", len(names)),
		})
	}
	return out
}

// checkMaliciousPatterns reports the first match of each pattern.
func (a *Analyzer) checkMaliciousPatterns(src *Source, _ string) []Violation {
	var out []Violation
	for _, mp := range maliciousPatterns {
		loc := mp.pattern.FindStringIndex(src.Code)
		if loc == nil {
			continue
		}
		out = append(out, Violation{
			Kind:    KindMaliciousPattern,
			Message: fmt.Sprintf("potentially malicious pattern (%s): %s", mp.category, src.Code[loc[0]:loc[1]]),
			Line:    strings.Count(src.Code[:loc[0]], "\n") + 1,
		})
	}
	return out
}

// checkInputValidation requires at least one comparison inside an if.
func (a *Analyzer) checkInputValidation(src *Source, functionName string) []Violation {
	var root ast.Node = src.File()
	if fd := src.Func(functionName); fd != nil && fd.Body != nil {
		root = fd.Body
	}

	validated := false
	ast.Inspect(root, func(n ast.Node) bool {
		if validated {
			return false
		}
		ifStmt, ok := n.(*ast.IfStmt)
		if !ok {
			return true
		}
		ast.Inspect(ifStmt.Cond, func(c ast.Node) bool {
			if bin, ok := c.(*ast.BinaryExpr); ok && isComparison(bin.Op) {
				validated = true
			}
			return !validated
		})
		return !validated
	})
	if validated {
		return nil
	}
	return []Violation{{Kind: KindInputValidation, Message: "no input validation detected"}}
}

func isComparison(op token.Token) bool {
	switch op {
	case token.EQL, token.NEQ, token.LSS, token.GTR, token.LEQ, token.GEQ:
		return true
	}
	return false
}

// checkInputSanitization flags direct reads from the terminal.
func (a *Analyzer) checkInputSanitization(src *Source, _ string) []Violation {
	var out []Violation
	ast.Inspect(src.File(), func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		ref := ident.Name + "." + sel.Sel.Name
		if interactiveInput[ref] {
			out = append(out, Violation{
				Kind:    KindInputSanitization,
				Message: fmt.Sprintf("unsanitized interactive input: %s", ref),
				Line:    src.Line(sel.Pos()),
			})
		}
		return true
	})
	return out
}

// sensitiveOperations annotates calls with the permissions they need.
func (a *Analyzer) sensitiveOperations(src *Source) []SensitiveOperation {
	var out []SensitiveOperation
	for _, c := range src.Calls {
		for _, sp := range sensitivePatterns {
			if sp.pattern.MatchString(c.Callee) {
				out = append(out, SensitiveOperation{
					Category:    sp.category,
					Call:        src.ExprString(c.Expr),
					Line:        c.Line,
					Permissions: sp.permissions,
				})
			}
		}
	}
	return out
}
