// Package llm holds the language-model collaborators of the lifecycle:
// code generation and repair, request classification and result
// translation.
package llm

import (
	"context"
	"fmt"
	"strings"

	"lux/internal/logging"
)

// CodeGenerator writes and repairs function source. An empty result means
// the model gave up on that attempt.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, name, description string) (string, error)
	Repair(ctx context.Context, code, failure string, final bool) (string, error)
}

// Classifier maps a request to "YES - name [extra]", "NEW - name description" or "NO".
type Classifier interface {
	Classify(ctx context.Context, text, listing string) (string, error)
}

// Translator rewrites a raw function result as conversational text.
type Translator interface {
	Translate(ctx context.Context, raw, context string) (string, error)
}

// Model is a single-turn text completion backend.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Assistant implements every collaborator on top of one Model.
type Assistant struct {
	model Model
}

// NewAssistant wraps model.
func NewAssistant(model Model) *Assistant {
	return &Assistant{model: model}
}

// GenerateCode asks for a new function and strips Markdown fences.
func (a *Assistant) GenerateCode(ctx context.Context, name, description string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "generate_code")
	defer timer.Stop()

	out, err := a.model.Generate(ctx, generatePrompt(name, description))
	if err != nil {
		return "", fmt.Errorf("code generation for %s failed: %w", name, err)
	}
	code := StripFences(out)
	logging.LLMDebug("generated %d bytes for %s", len(code), name)
	return code, nil
}

// Repair asks for a patched version of code. final requests a full rewrite.
func (a *Assistant) Repair(ctx context.Context, code, failure string, final bool) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "repair")
	defer timer.Stop()

	out, err := a.model.Generate(ctx, repairPrompt(code, failure, final))
	if err != nil {
		return "", fmt.Errorf("repair failed: %w", err)
	}
	return StripFences(out), nil
}

// Classify returns the model's first non-empty line, or "NO".
func (a *Assistant) Classify(ctx context.Context, text, listing string) (string, error) {
	out, err := a.model.Generate(ctx, classifyPrompt(text, listing))
	if err != nil {
		return "NO", fmt.Errorf("classification failed: %w", err)
	}
	for _, line := range strings.Split(StripFences(out), "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"`")
		if line != "" {
			logging.LLM("classified %q as %q", text, line)
			return line, nil
		}
	}
	return "NO", nil
}

// Translate never fails the caller: on any model error the raw text is
// returned alongside the error.
func (a *Assistant) Translate(ctx context.Context, raw, requestContext string) (string, error) {
	out, err := a.model.Generate(ctx, translatePrompt(raw, requestContext))
	if err != nil {
		return raw, fmt.Errorf("translation failed: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return raw, nil
	}
	return out, nil
}

// StripFences returns the body of the first fenced block in text, or the
// trimmed text when there is none.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	nl := strings.IndexAny(body, "\r\n")
	if nl < 0 {
		return strings.TrimSpace(strings.TrimSuffix(body, "```"))
	}
	// Skip the info string (```go).
	body = body[nl+1:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// Offline stands in for the model when none is configured. Every call
// fails with Err; Translate still returns the raw text.
type Offline struct {
	Err error
}

func (o Offline) GenerateCode(context.Context, string, string) (string, error) {
	return "", o.Err
}

func (o Offline) Repair(context.Context, string, string, bool) (string, error) {
	return "", o.Err
}

func (o Offline) Classify(context.Context, string, string) (string, error) {
	return "NO", o.Err
}

func (o Offline) Translate(_ context.Context, raw, _ string) (string, error) {
	return raw, o.Err
}
