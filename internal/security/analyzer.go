// Package security statically vets generated functions before they are
// tested, persisted or executed.
package security

import (
	"errors"
	"fmt"
	"go/scanner"
	"sort"
	"strings"

	"lux/internal/config"
	"lux/internal/logging"
	"lux/internal/policy"
)

// Kind categorizes a violation.
type Kind string

const (
	KindError             Kind = "error"
	KindImport            Kind = "import"
	KindDangerousCall     Kind = "dangerous_call"
	KindFileAccess        Kind = "file_access"
	KindInfiniteLoop      Kind = "infinite_loop"
	KindResourceUsage     Kind = "resource_usage"
	KindMaliciousPattern  Kind = "malicious_pattern"
	KindInputValidation   Kind = "input_validation"
	KindInputSanitization Kind = "input_sanitization"
)

// Violation is a single finding. Line is 0 when it does not apply.
type Violation struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("%s (line %d): %s", v.Kind, v.Line, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// SensitiveOperation is an informational annotation, never a rejection.
type SensitiveOperation struct {
	Category    string   `json:"category"`
	Call        string   `json:"call"`
	Line        int      `json:"line"`
	Permissions []string `json:"permissions"`
}

// Report is the full result of Inspect.
type Report struct {
	Function   string
	Violations []Violation
	Sensitive  []SensitiveOperation
}

// Safe reports whether no violation was found.
func (r Report) Safe() bool { return len(r.Violations) == 0 }

// Messages renders violations for display.
func (r Report) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.String())
	}
	return out
}

// Config is the analyzer policy.
type Config struct {
	AllowedImports    []string
	AllowedModules    []string
	ProhibitedImports []string
	AllowedDirs       []string
	MaxLoopDepth      int
	MaxDistinctNames  int
}

// DefaultConfig returns the built-in policy with no third-party modules.
func DefaultConfig() Config {
	return Config{
		AllowedImports:    append([]string(nil), DefaultAllowedImports...),
		ProhibitedImports: append([]string(nil), DefaultProhibitedImports...),
		AllowedDirs:       []string{"resources", "logs", "temp"},
		MaxLoopDepth:      2,
		MaxDistinctNames:  50,
	}
}

// ConfigFrom builds the analyzer policy from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.AllowedImports = append(c.AllowedImports, cfg.Security.ExtraAllowedImports...)
	if len(cfg.Security.AllowedDirs) > 0 {
		c.AllowedDirs = cfg.Security.AllowedDirs
	}
	if cfg.Security.MaxLoopDepth > 0 {
		c.MaxLoopDepth = cfg.Security.MaxLoopDepth
	}
	if cfg.Security.MaxDistinctNames > 0 {
		c.MaxDistinctNames = cfg.Security.MaxDistinctNames
	}
	for module := range cfg.Dependencies.Allowed {
		c.AllowedModules = append(c.AllowedModules, module)
	}
	sort.Strings(c.AllowedModules)
	return c
}

// Analyzer runs the independent checks over a generated function.
type Analyzer struct {
	config    Config
	evaluator *policy.Evaluator
	allowed   map[string]bool
}

// NewAnalyzer creates an analyzer for cfg.
func NewAnalyzer(cfg Config) *Analyzer {
	allowed := make(map[string]bool, len(cfg.AllowedImports))
	for _, pkg := range cfg.AllowedImports {
		allowed[pkg] = true
	}
	return &Analyzer{
		config:    cfg,
		evaluator: policy.NewEvaluator(policy.SecurityProgram()),
		allowed:   allowed,
	}
}

// Analyze returns every violation found in code.
func (a *Analyzer) Analyze(code, functionName string) []Violation {
	return a.Inspect(code, functionName).Violations
}

// Inspect returns violations plus sensitive operations.
func (a *Analyzer) Inspect(code, functionName string) Report {
	report := Report{Function: functionName}

	src, err := ParseSource(code)
	if err != nil {
		logging.Security("parse failure in %s: %v", functionName, err)
		report.Violations = []Violation{{
			Kind:    KindError,
			Message: fmt.Sprintf("failed to parse code: %v", err),
			Line:    errorLine(err),
		}}
		return report
	}

	checks := []struct {
		name string
		run  func(*Source, string) []Violation
	}{
		{"policy", a.checkPolicy},
		{"file_access", a.checkFileAccess},
		{"infinite_loops", a.checkLoops},
		{"resource_usage", a.checkResourceUsage},
		{"malicious_patterns", a.checkMaliciousPatterns},
		{"input_validation", a.checkInputValidation},
		{"input_sanitization", a.checkInputSanitization},
	}
	for _, c := range checks {
		report.Violations = append(report.Violations, runCheck(c.name, func() []Violation {
			return c.run(src, functionName)
		})...)
	}
	report.Sensitive = a.sensitiveOperations(src)

	if len(report.Violations) > 0 {
		logging.Security("%s rejected with %d violations", functionName, len(report.Violations))
		for _, v := range report.Violations {
			logging.SecurityDebug("  %s", v)
		}
	} else {
		logging.SecurityDebug("%s passed (%d sensitive operations)", functionName, len(report.Sensitive))
	}
	return report
}

// runCheck recovers a panicking check so the remaining checks still run.
func runCheck(name string, fn func() []Violation) (out []Violation) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategorySecurity).Error("check %s panicked: %v", name, r)
			out = nil
		}
	}()
	return fn()
}

func errorLine(err error) int {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return list[0].Pos.Line
	}
	return 0
}

// checkPolicy evaluates the import and dangerous-call rules.
func (a *Analyzer) checkPolicy(src *Source, _ string) []Violation {
	facts := src.securityFacts()
	for _, imp := range src.Imports {
		if a.allowed[imp.Path] || a.underAllowedModule(imp.Path) {
			facts = append(facts, policy.Fact{Predicate: "allowed_import", Args: []interface{}{imp.Path}})
		}
	}
	for _, pkg := range a.config.ProhibitedImports {
		facts = append(facts, policy.Fact{Predicate: "prohibited_import", Args: []interface{}{pkg}})
	}
	for _, callee := range dangerousCallees {
		facts = append(facts, policy.Fact{Predicate: "dangerous_callee", Args: []interface{}{callee}})
	}
	for _, method := range dangerousMethods {
		facts = append(facts, policy.Fact{Predicate: "dangerous_method", Args: []interface{}{method}})
	}

	derived, err := a.evaluator.Evaluate(facts, "prohibited_hit", "unlisted_import", "dangerous_call")
	if err != nil {
		logging.Get(logging.CategorySecurity).Error("security policy evaluation failed: %v", err)
		return nil
	}

	var out []Violation
	for _, pkg := range derived.Column("prohibited_hit", 0) {
		out = append(out, Violation{Kind: KindImport, Message: fmt.Sprintf("prohibited import: %s", pkg), Line: src.ImportLine(pkg)})
	}
	for _, pkg := range derived.Column("unlisted_import", 0) {
		out = append(out, Violation{Kind: KindImport, Message: fmt.Sprintf("import not allowed: %s", pkg), Line: src.ImportLine(pkg)})
	}
	for _, callee := range derived.Column("dangerous_call", 1) {
		out = append(out, Violation{Kind: KindDangerousCall, Message: fmt.Sprintf("dangerous call to %s()", callee), Line: src.CallLine(callee)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func (a *Analyzer) underAllowedModule(path string) bool {
	for _, module := range a.config.AllowedModules {
		if path == module || strings.HasPrefix(path, module+"/") {
			return true
		}
	}
	return false
}
