package security

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"sort"
	"strconv"

	"lux/internal/policy"
)

// Import is one import spec of a generated file.
type Import struct {
	Path string
	Line int
}

// Call is one call expression together with the function that contains it.
type Call struct {
	Func   string
	Callee string
	Method string
	Line   int
	Expr   *ast.CallExpr
}

// Source is a parsed generated function plus the structural facts extracted
// from its syntax tree.
type Source struct {
	Code       string
	Imports    []Import
	Calls      []Call
	References []string

	fset *token.FileSet
	file *ast.File
}

// ParseSource parses Go source and walks it once to collect imports, calls
// and qualified references.
func ParseSource(code string) (*Source, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", code, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	src := &Source{Code: code, fset: fset, file: file}
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		src.Imports = append(src.Imports, Import{Path: path, Line: src.Line(imp.Pos())})
	}

	refs := make(map[string]struct{})
	ast.Walk(&factVisitor{src: src, refs: refs}, file)
	for ref := range refs {
		src.References = append(src.References, ref)
	}
	sort.Strings(src.References)
	return src, nil
}

// File returns the syntax tree.
func (s *Source) File() *ast.File { return s.file }

// Line returns the 1-based line of pos.
func (s *Source) Line(pos token.Pos) int {
	return s.fset.Position(pos).Line
}

// ExprString renders an expression back to source text.
func (s *Source) ExprString(expr ast.Node) string {
	var buf bytes.Buffer
	_ = printer.Fprint(&buf, s.fset, expr)
	return buf.String()
}

// Func returns the top-level function declaration called name, or nil.
func (s *Source) Func(name string) *ast.FuncDecl {
	for _, decl := range s.file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if ok && fd.Recv == nil && fd.Name.Name == name {
			return fd
		}
	}
	return nil
}

// ImportPaths returns the imported paths in source order.
func (s *Source) ImportPaths() []string {
	out := make([]string, 0, len(s.Imports))
	for _, imp := range s.Imports {
		out = append(out, imp.Path)
	}
	return out
}

// ImportLine returns the line of the import of path, or 0.
func (s *Source) ImportLine(path string) int {
	for _, imp := range s.Imports {
		if imp.Path == path {
			return imp.Line
		}
	}
	return 0
}

// CallLine returns the line of the first call to callee, or 0.
func (s *Source) CallLine(callee string) int {
	for _, c := range s.Calls {
		if c.Callee == callee {
			return c.Line
		}
	}
	return 0
}

// securityFacts emits code_import, code_call and code_method facts.
func (s *Source) securityFacts() []policy.Fact {
	facts := make([]policy.Fact, 0, len(s.Imports)+2*len(s.Calls))
	for _, imp := range s.Imports {
		facts = append(facts, policy.Fact{Predicate: "code_import", Args: []interface{}{imp.Path}})
	}
	for _, c := range s.Calls {
		facts = append(facts, policy.Fact{Predicate: "code_call", Args: []interface{}{c.Func, c.Callee}})
		if c.Method != "" {
			facts = append(facts, policy.Fact{Predicate: "code_method", Args: []interface{}{c.Func, c.Callee, c.Method}})
		}
	}
	return facts
}

type factVisitor struct {
	src     *Source
	refs    map[string]struct{}
	current string
}

func (v *factVisitor) Visit(node ast.Node) ast.Visitor {
	if node == nil {
		return nil
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		prev := v.current
		v.current = n.Name.Name
		if n.Body != nil {
			ast.Walk(v, n.Body)
		}
		v.current = prev
		return nil
	case *ast.FuncLit:
		prev := v.current
		v.current = "func_literal_" + strconv.Itoa(v.src.Line(n.Pos()))
		ast.Walk(v, n.Body)
		v.current = prev
		return nil
	case *ast.CallExpr:
		call := Call{
			Func:   v.current,
			Callee: v.src.ExprString(n.Fun),
			Line:   v.src.Line(n.Pos()),
			Expr:   n,
		}
		if sel, ok := n.Fun.(*ast.SelectorExpr); ok {
			call.Method = sel.Sel.Name
		}
		v.src.Calls = append(v.src.Calls, call)
	case *ast.SelectorExpr:
		if ident, ok := n.X.(*ast.Ident); ok {
			v.refs[ident.Name+"."+n.Sel.Name] = struct{}{}
		}
	}
	return v
}
