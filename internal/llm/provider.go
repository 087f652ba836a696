// Package llm provides language model clients for the navigation fallback.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provider names.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Completer produces a single text completion.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, *Usage, error)
	Model() string
	Provider() string
}

// Usage contains token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

// ProviderConfig selects one provider.
type ProviderConfig struct {
	Provider string
	Claude   Config
	Gemini   GeminiConfig
}

// New builds the configured Completer. It returns nil, nil for ProviderNone.
func New(cfg ProviderConfig, logger *zap.Logger) (Completer, error) {
	switch cfg.Provider {
	case ProviderClaude:
		c, err := NewClaudeClient(cfg.Claude, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderGemini:
		c, err := NewGeminiClient(cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
