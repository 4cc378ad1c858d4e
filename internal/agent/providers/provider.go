// Package providers implements the language model backends behind
// agent.LLMProvider: Gemini (default), OpenAI and Anthropic.
package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/mailops/internal/agent"
)

// Config selects and configures one provider.
type Config struct {
	// Provider is one of gemini, openai or anthropic. Empty means gemini.
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (agent.LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini", "google":
		if cfg.BaseURL != "" {
			return nil, fmt.Errorf("gemini: base_url is not supported")
		}
		return NewGeminiProvider(GeminiConfig{
			APIKey:       cfg.APIKey,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			DefaultModel: cfg.Model,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			DefaultModel: cfg.Model,
		})
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			DefaultModel: cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
