// Package feedback turns lifecycle failures into user-facing text with
// suggestions drawn from the registry.
package feedback

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"lux/internal/faults"
	"lux/internal/logging"
	"lux/internal/registry"
)

// MaxSuggestions bounds did-you-mean and related lists.
const MaxSuggestions = 3

// SimilarityCutoff is the minimum normalized edit similarity for a suggestion.
const SimilarityCutoff = 0.6

// Catalog is the read side of the registry.
type Catalog interface {
	Names() []string
	Get(name string) (registry.Record, bool)
	List() []registry.Record
}

// Details fill a template.
type Details struct {
	Name       string
	Error      string
	ErrorType  string
	Violations []string
	Resource   string
}

type template struct {
	message string
	action  string
}

var templates = map[faults.Kind]template{
	faults.NotFound: {
		message: "No encontré la función '{name}'.",
		action:  "Puedo crear una nueva función si me describes lo que necesitas.",
	},
	faults.Disabled: {
		message: "La función '{name}' está deshabilitada.",
		action:  "Habilítala si quieres volver a usarla.",
	},
	faults.ExecutionRuntimeFault: {
		message: "Hubo un error al ejecutar '{name}': {error}",
		action:  "Esto puede deberse a {reason}. Intenta de nuevo con otros datos.",
	},
	faults.ExecutionTimeout: {
		message: "La función '{name}' tardó demasiado y se detuvo.",
		action:  "Intenta con una petición más sencilla.",
	},
	faults.PermissionDenied: {
		message: "No tengo permiso para que '{name}' use {resource}.",
		action:  "Esa función necesita permisos de riesgo alto y no puedo concederlos.",
	},
	faults.SecurityViolation: {
		message: "El código generado para '{name}' no pasó la revisión de seguridad: {violations}",
		action:  "Necesito ajustar el código para cumplir con las reglas de seguridad.",
	},
	faults.TestExhausted: {
		message: "La función '{name}' no cumple con los requisitos: {error}",
		action:  "No pude repararla después de varios intentos. Describe tu necesidad de otra forma.",
	},
	faults.DependencyConflict: {
		message: "Hay un problema con las dependencias de '{name}': {violations}",
		action:  "Esas bibliotecas no están permitidas.",
	},
	faults.DependencyInstallFailure: {
		message: "No pude instalar las dependencias de '{name}': {error}",
		action:  "Necesito instalarlas para continuar.",
	},
	faults.ParseError: {
		message: "El código de '{name}' no se pudo interpretar: {error}",
		action:  "Necesito generar el código de nuevo.",
	},
	faults.GenerationFailure: {
		message: "No pude generar el código de '{name}': {error}",
		action:  "Por favor, intenta de nuevo en un momento.",
	},
	faults.Internal: {
		message: "Ocurrió un error interno: {error}",
		action:  "Por favor, intenta de nuevo.",
	},
}

var fallback = template{
	message: "Error desconocido: {error}",
	action:  "Por favor, intenta de nuevo o describe tu necesidad de otra forma.",
}

var errorReasons = map[string]string{
	"timeout": "que la función tardó demasiado en responder",
	"runtime": "un fallo dentro de la función",
	"load":    "que el código no pudo cargarse",
}

// Manager renders messages against a catalog.
type Manager struct {
	catalog Catalog
}

// New creates a Manager. A nil catalog disables suggestions.
func New(catalog Catalog) *Manager {
	return &Manager{catalog: catalog}
}

// Message renders the template for kind. Unknown kinds use a generic text.
func (m *Manager) Message(kind faults.Kind, d Details) string {
	tpl, ok := templates[kind]
	if !ok {
		tpl = fallback
	}
	if d.Error == "" {
		d.Error = "desconocido"
	}
	reason, ok := errorReasons[d.ErrorType]
	if !ok {
		reason = "un problema inesperado"
	}
	resource := d.Resource
	if resource == "" {
		resource = "ese recurso"
	}
	fill := strings.NewReplacer(
		"{name}", d.Name,
		"{error}", d.Error,
		"{reason}", reason,
		"{resource}", resource,
		"{violations}", strings.Join(d.Violations, "; "),
	)
	msg := fill.Replace(tpl.message)
	action := fill.Replace(tpl.action)

	if kind == faults.NotFound && m.catalog != nil {
		if names := m.Suggest(d.Name, m.catalog.Names()); len(names) > 0 {
			var b strings.Builder
			b.WriteString(msg)
			b.WriteString("\n¿Quizás quisiste decir alguna de estas?")
			for _, n := range names {
				b.WriteString("\n- ")
				b.WriteString(n)
				if rec, ok := m.catalog.Get(n); ok && rec.Description != "" {
					b.WriteString(": ")
					b.WriteString(rec.Description)
				}
			}
			msg = b.String()
		}
	}
	return msg + "\n" + action
}

// Render converts err into user text. Errors outside the taxonomy render as
// internal failures.
func (m *Manager) Render(err error) string {
	if err == nil {
		return ""
	}
	fe, ok := faults.As(err)
	if !ok {
		logging.Get(logging.CategoryFeedback).Warn("untyped error rendered as internal: %v", err)
		return m.Message(faults.Internal, Details{Error: err.Error()})
	}

	d := Details{Name: fe.Function, Error: fe.Message, Violations: fe.Details}
	if fe.Err != nil {
		if d.Error == "" {
			d.Error = fe.Err.Error()
		} else {
			d.Error = d.Error + ": " + fe.Err.Error()
		}
	}
	switch fe.Kind {
	case faults.ExecutionTimeout:
		d.ErrorType = "timeout"
	case faults.ExecutionRuntimeFault:
		d.ErrorType = "runtime"
	case faults.PermissionDenied:
		d.Resource = strings.Join(fe.Details, ", ")
	}
	if len(d.Violations) == 0 {
		d.Violations = []string{d.Error}
	}
	return m.Message(fe.Kind, d)
}

// Suggest returns up to MaxSuggestions names close to name. Candidates must
// reach SimilarityCutoff; fuzzy subsequence matches rank first.
func (m *Manager) Suggest(name string, names []string) []string {
	if name == "" || len(names) == 0 {
		return nil
	}

	fuzzyScore := make(map[string]int)
	for _, match := range fuzzy.Find(name, names) {
		fuzzyScore[match.Str] = match.Score
	}

	type candidate struct {
		name    string
		sim     float64
		fuzzy   bool
		fzScore int
	}
	var cands []candidate
	for _, n := range names {
		if n == name {
			continue
		}
		sim := Similarity(name, n)
		if sim < SimilarityCutoff {
			continue
		}
		score, ok := fuzzyScore[n]
		cands = append(cands, candidate{name: n, sim: sim, fuzzy: ok, fzScore: score})
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.fuzzy != b.fuzzy {
			return a.fuzzy
		}
		if a.fuzzy && a.fzScore != b.fzScore {
			return a.fzScore > b.fzScore
		}
		if a.sim != b.sim {
			return a.sim > b.sim
		}
		return a.name < b.name
	})

	var out []string
	for i := 0; i < len(cands) && i < MaxSuggestions; i++ {
		out = append(out, cands[i].name)
	}
	return out
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
func Similarity(a, b string) float64 {
	ra, rb := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Related returns up to MaxSuggestions records sharing tags or function
// type with name, most shared tags first.
func (m *Manager) Related(name string) []registry.Record {
	if m.catalog == nil {
		return nil
	}
	current, ok := m.catalog.Get(name)
	if !ok {
		return nil
	}
	tags := make(map[string]bool, len(current.Tags))
	for _, t := range current.Tags {
		tags[t] = true
	}

	type scored struct {
		rec    registry.Record
		common int
	}
	var related []scored
	for _, rec := range m.catalog.List() {
		if rec.Name == name {
			continue
		}
		common := 0
		for _, t := range rec.Tags {
			if tags[t] {
				common++
			}
		}
		if common > 0 || rec.FunctionType == current.FunctionType {
			related = append(related, scored{rec: rec, common: common})
		}
	}
	sort.SliceStable(related, func(i, j int) bool { return related[i].common > related[j].common })

	var out []registry.Record
	for i := 0; i < len(related) && i < MaxSuggestions; i++ {
		out = append(out, related[i].rec)
	}
	return out
}

// FormatResult appends related functions to a successful result.
func (m *Manager) FormatResult(name, result string) string {
	related := m.Related(name)
	if len(related) == 0 {
		return result
	}
	var b strings.Builder
	b.WriteString(result)
	b.WriteString("\n\nFunciones relacionadas que podrían interesarte:")
	for _, rec := range related {
		fmt.Fprintf(&b, "\n- %s: %s", rec.Name, rec.Description)
	}
	return b.String()
}
