package permissions

import (
	"fmt"
	"strings"

	"lux/internal/logging"
	"lux/internal/policy"
	"lux/internal/security"
)

// Decision is the outcome of applying the permission policy to a function.
type Decision struct {
	Function string
	Required []Permission
	Rejected []Permission
	Granted  []string
}

// Approved reports whether nothing high or critical was required.
func (d Decision) Approved() bool { return len(d.Rejected) == 0 }

// Reason renders the rejected permissions for display.
func (d Decision) Reason() string {
	parts := make([]string, 0, len(d.Rejected))
	for _, p := range d.Rejected {
		parts = append(parts, fmt.Sprintf("%s (%s)", p.Name, p.RiskLevel))
	}
	return "requires restricted permissions: " + strings.Join(parts, ", ")
}

// Analyzer maps code to capabilities through the permission rule set.
type Analyzer struct {
	evaluator *policy.Evaluator
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{evaluator: policy.NewEvaluator(policy.PermissionsProgram())}
}

// RequiredPermissions returns the capabilities code needs, in catalog order.
// Code that does not parse requires nothing; the security gate rejects it.
func (a *Analyzer) RequiredPermissions(code string) []Permission {
	required, _, err := a.derive(code)
	if err != nil {
		logging.Permissions("permission analysis skipped: %v", err)
		return nil
	}
	return required
}

// Evaluate applies the policy: high or critical capabilities are rejected
// with no grant path, the rest are granted.
func (a *Analyzer) Evaluate(name, code string) (Decision, error) {
	required, rejected, err := a.derive(code)
	if err != nil {
		return Decision{Function: name}, err
	}

	d := Decision{Function: name, Required: required, Rejected: rejected}
	if d.Approved() {
		d.Granted = Names(required)
		logging.Permissions("%s approved with %v", name, d.Granted)
	} else {
		logging.Permissions("%s rejected: %s", name, d.Reason())
	}
	return d, nil
}

func (a *Analyzer) derive(code string) ([]Permission, []Permission, error) {
	src, err := security.ParseSource(code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse code: %w", err)
	}

	facts := baseFacts()
	seen := make(map[string]bool)
	for _, path := range src.ImportPaths() {
		for _, prefix := range pathPrefixes(path) {
			if seen[prefix] {
				continue
			}
			seen[prefix] = true
			facts = append(facts, policy.Fact{Predicate: "code_import_prefix", Args: []interface{}{prefix}})
		}
	}
	for _, ref := range src.References {
		facts = append(facts, policy.Fact{Predicate: "code_reference", Args: []interface{}{ref}})
	}

	derived, err := a.evaluator.Evaluate(facts, "required_permission", "rejected_permission")
	if err != nil {
		return nil, nil, err
	}
	return inCatalogOrder(derived.Column("required_permission", 0)),
		inCatalogOrder(derived.Column("rejected_permission", 0)), nil
}

func baseFacts() []policy.Fact {
	var facts []policy.Fact
	for _, p := range catalog {
		facts = append(facts, policy.Fact{Predicate: "permission_risk", Args: []interface{}{p.Name, string(p.RiskLevel)}})
	}
	for prefix, perm := range importPermissions {
		facts = append(facts, policy.Fact{Predicate: "import_permission", Args: []interface{}{prefix, perm}})
	}
	for ref, perm := range referencePermissions {
		facts = append(facts, policy.Fact{Predicate: "reference_permission", Args: []interface{}{ref, perm}})
	}
	return facts
}

// pathPrefixes returns a, a/b, a/b/c for "a/b/c".
func pathPrefixes(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

func inCatalogOrder(names []string) []Permission {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	var out []Permission
	for _, p := range catalog {
		if set[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
