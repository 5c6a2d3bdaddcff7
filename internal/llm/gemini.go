package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"lux/internal/config"
)

// GeminiModel generates text with Google's Gemini API.
type GeminiModel struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiModel creates a client for model authenticated with apiKey.
func NewGeminiModel(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: model, timeout: timeout}, nil
}

// Generate sends prompt as a single user turn.
func (g *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("Gemini generate failed: %w", err)
	}
	return resp.Text(), nil
}

// NewGemini builds an Assistant backed by Gemini from cfg.
func NewGemini(ctx context.Context, cfg *config.Config) (*Assistant, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	m, err := NewGeminiModel(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.GetLLMTimeout())
	if err != nil {
		return nil, err
	}
	return NewAssistant(m), nil
}
