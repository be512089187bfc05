package backends

import (
	"context"
	"fmt"

	"github.com/arcana/api/internal/config"
	"go.uber.org/zap"
)

// FromConfig builds backends in the configured priority order.
// Backends without credentials are skipped with a warning.
func FromConfig(ctx context.Context, cfg config.BackendsConfig, aiServiceURL string, logger *zap.Logger) ([]Backend, error) {
	var out []Backend

	for _, id := range cfg.Priority {
		switch id {
		case "aiservice":
			if aiServiceURL == "" {
				logger.Warn("skipping backend without url", zap.String("backend", id))
				continue
			}
			out = append(out, NewAIService(aiServiceURL, logger))
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				logger.Warn("skipping backend without api key", zap.String("backend", id))
				continue
			}
			out = append(out, NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel, ""))
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				logger.Warn("skipping backend without api key", zap.String("backend", id))
				continue
			}
			out = append(out, NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, ""))
		case "gemini":
			if cfg.GeminiAPIKey == "" {
				logger.Warn("skipping backend without api key", zap.String("backend", id))
				continue
			}
			g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, "")
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		default:
			return nil, fmt.Errorf("unknown generation backend %q", id)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no generation backends configured")
	}
	return out, nil
}
