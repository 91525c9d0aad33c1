package llm

import (
	"context"
	"fmt"

	"github.com/neuna/neuna/internal/config"
)

// NewBackend creates the Backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Backend {
	case "gemini":
		return NewGeminiBackend(ctx, cfg.APIKey, cfg.TextModel)

	case "openai":
		return NewOpenAICompat(OpenAIConfig{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			TimeoutSecs: cfg.TimeoutSecs,
		}), nil

	case "echo", "mock":
		return NewEchoBackend(), nil

	default:
		return nil, fmt.Errorf("unknown backend: %s (valid: gemini, openai, echo)", cfg.Backend)
	}
}

// GatewayConfig maps runtime configuration onto gateway settings.
func GatewayConfig(cfg *config.Config) Config {
	return Config{
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
		AudioModel:  cfg.AudioModel,
		Search:      cfg.Search,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.Timeout(),
	}
}
