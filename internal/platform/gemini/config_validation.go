package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/generation"
)

// validateConfig checks the settings the generator cannot run without and
// warns about values it will replace with defaults.
func validateConfig(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) error {
	if cfg.GeminiAPIKey == "" {
		logger.ErrorContext(ctx, "missing Gemini API key")
		return fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		logger.ErrorContext(ctx, "missing Gemini model name")
		return fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.MaxRetries < 0 {
		logger.WarnContext(ctx, "invalid max retries value, using default",
			"value", cfg.MaxRetries,
			"default", defaultMaxRetries)
	}

	if cfg.RetryDelaySeconds < 1 {
		logger.WarnContext(ctx, "invalid retry delay value, using default",
			"value", cfg.RetryDelaySeconds,
			"default_seconds", defaultRetryDelaySeconds)
	}

	return nil
}
