package policy

import (
	_ "embed"
	"fmt"
	"sort"

	"lux/internal/logging"
)

//go:embed security.mg
var securityProgram string

//go:embed permissions.mg
var permissionsProgram string

// SecurityProgram returns the embedded security rule set.
func SecurityProgram() string { return securityProgram }

// PermissionsProgram returns the embedded capability rule set.
func PermissionsProgram() string { return permissionsProgram }

// Evaluator runs one rule set against a fresh fact store per call.
type Evaluator struct {
	program string
	config  Config
}

// NewEvaluator creates an evaluator for program.
func NewEvaluator(program string) *Evaluator {
	return &Evaluator{program: program, config: DefaultConfig()}
}

// Derived holds the facts of each requested predicate.
type Derived map[string][]Fact

// Evaluate loads the program, inserts facts and returns the requested predicates.
func (ev *Evaluator) Evaluate(facts []Fact, predicates ...string) (Derived, error) {
	timer := logging.StartTimer(logging.CategoryPolicy, "policy evaluation")
	defer timer.Stop()

	engine := NewEngine(ev.config)
	if err := engine.LoadSchemaString(ev.program); err != nil {
		return nil, err
	}
	if err := engine.AddFacts(facts); err != nil {
		return nil, fmt.Errorf("failed to add facts: %w", err)
	}
	if err := engine.Evaluate(); err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	out := make(Derived, len(predicates))
	for _, pred := range predicates {
		got, err := engine.GetFacts(pred)
		if err != nil {
			return nil, err
		}
		out[pred] = got
	}
	logging.Get(logging.CategoryPolicy).Debug("evaluated %d facts, derived %v", engine.FactCount(), out.counts())
	return out, nil
}

func (d Derived) counts() map[string]int {
	c := make(map[string]int, len(d))
	for k, v := range d {
		c[k] = len(v)
	}
	return c
}

// Column returns the sorted, deduplicated string values at index i.
func (d Derived) Column(predicate string, i int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range d[predicate] {
		if i >= len(f.Args) {
			continue
		}
		s, ok := f.Args[i].(string)
		if !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
