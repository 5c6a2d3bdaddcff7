package manager

import (
	"context"
	"fmt"
	"go/token"
	"strings"

	"lux/internal/logging"
	"lux/internal/registry"
)

// AnalysisType is the classifier's verdict on a request.
type AnalysisType string

const (
	AnalysisYes AnalysisType = "YES"
	AnalysisNew AnalysisType = "NEW"
	AnalysisNo  AnalysisType = "NO"
)

// Analysis is a parsed classification.
type Analysis struct {
	Type        AnalysisType
	Function    string
	Description string
	Extra       string
}

// ParseClassification accepts exactly "YES - <name>[ <extra>]",
// "NEW - <name> <description>" or "NO". Anything else is NO.
func ParseClassification(reply string) Analysis {
	reply = strings.TrimSpace(reply)
	no := Analysis{Type: AnalysisNo}

	var kind AnalysisType
	switch {
	case strings.HasPrefix(reply, "YES - "):
		kind = AnalysisYes
	case strings.HasPrefix(reply, "NEW - "):
		kind = AnalysisNew
	default:
		return no
	}

	rest := strings.TrimSpace(reply[len("YES - "):])
	name, tail, _ := strings.Cut(rest, " ")
	tail = strings.TrimSpace(tail)
	if !token.IsIdentifier(name) {
		return no
	}

	if kind == AnalysisYes {
		return Analysis{Type: AnalysisYes, Function: name, Extra: tail}
	}
	if tail == "" {
		return no
	}
	return Analysis{Type: AnalysisNew, Function: name, Description: tail}
}

// AnalyzeRequest classifies text against the current registry listing. A
// classifier failure is returned together with a NO analysis.
func (m *Manager) AnalyzeRequest(ctx context.Context, text string) (Analysis, error) {
	reply, err := m.classifier.Classify(ctx, text, listing(m.registry.List()))
	if err != nil {
		logging.RouterError("classification failed: %v", err)
		return Analysis{Type: AnalysisNo}, fmt.Errorf("failed to classify request: %w", err)
	}
	a := ParseClassification(reply)
	logging.Router("request %q -> %s %s", text, a.Type, a.Function)
	return a, nil
}

func listing(records []registry.Record) string {
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "- %s: %s\n", rec.Name, rec.Description)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
