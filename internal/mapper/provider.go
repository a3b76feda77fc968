// Package mapper asks an external LLM for structured extraction from raw
// OCR text. Extraction failure is always non-fatal to callers: documents
// fall back to their raw-text envelope.
package mapper

import (
	"context"
	"fmt"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

// Provider is one LLM backend. Complete sends a single-prompt request and
// returns the raw model output.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProvider selects the backend named by config.
func NewProvider(cfg models.AIConfig) (Provider, error) {
	switch cfg.DefaultProvider {
	case "openai", "":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured")
		}
		return newOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but no API key configured")
		}
		return newGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "ollama":
		if cfg.Ollama.BaseURL == "" {
			return nil, fmt.Errorf("ollama provider selected but no base URL configured")
		}
		return newOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	}
	return nil, fmt.Errorf("unknown AI provider %q", cfg.DefaultProvider)
}
