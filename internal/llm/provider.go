// Package llm provides the text generation capability used by the research agent.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI  = "openai"
	ProviderOffline = "offline"
)

// Request is one generation call. Fallback is returned by providers that
// cannot reach a model.
type Request struct {
	Purpose     string  `json:"purpose"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Fallback    string  `json:"-"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
}

// Response is the generated text.
type Response struct {
	Content  string `json:"content"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider"`
	Tokens   int64  `json:"tokens,omitempty"`
}

// Provider generates text.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Config selects and tunes the provider.
type Config struct {
	Provider    string                  `mapstructure:"provider"`
	Model       string                  `mapstructure:"model"`
	APIKey      string                  `mapstructure:"api_key"`
	BaseURL     string                  `mapstructure:"base_url"`
	Temperature float64                 `mapstructure:"temperature"`
	MaxTokens   int64                   `mapstructure:"max_tokens"`
	Timeout     time.Duration           `mapstructure:"timeout"`
	Breaker     circuitbreaker.Settings `mapstructure:"circuit_breaker"`
}

// DefaultConfig runs offline until an API key is configured.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderOffline,
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   2048,
		Timeout:     60 * time.Second,
		Breaker:     circuitbreaker.DefaultLLMSettings(),
	}
}

// New builds the configured provider. The openai provider without a key
// degrades to offline.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderOffline, "":
		return Offline{}, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			logger.Warn("No API key configured for openai provider, generating offline")
			return Offline{}, nil
		}
		return NewOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Offline returns the request's fallback text.
type Offline struct{}

// Generate implements Provider.
func (Offline) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return Response{Content: req.Fallback, Provider: ProviderOffline}, nil
}
