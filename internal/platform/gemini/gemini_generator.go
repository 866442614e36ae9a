package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/generation"
	"google.golang.org/genai"
)

const (
	defaultMaxRetries        = 3
	defaultRetryDelaySeconds = 2
)

// contentStreamer is the part of the genai Models service the generator uses.
type contentStreamer interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Generator streams completions from a Gemini model.
type Generator struct {
	logger      *slog.Logger
	models      contentStreamer
	model       string
	temperature float32
	maxRetries  int
	baseDelay   time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ generation.Streamer = (*Generator)(nil)

// NewGenerator validates cfg and connects a Gemini client.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := validateConfig(ctx, logger, cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	logger.InfoContext(ctx, "gemini generator initialized", "model", cfg.ModelName)
	return newGenerator(logger, cfg, client.Models), nil
}

func newGenerator(logger *slog.Logger, cfg config.LLMConfig, models contentStreamer) *Generator {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	delaySeconds := cfg.RetryDelaySeconds
	if delaySeconds < 1 {
		delaySeconds = defaultRetryDelaySeconds
	}

	return &Generator{
		logger:      logger.With("component", "gemini"),
		models:      models,
		model:       cfg.ModelName,
		temperature: float32(cfg.Temperature),
		maxRetries:  maxRetries,
		baseDelay:   time.Duration(delaySeconds) * time.Second,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Stream implements generation.Streamer.
func (g *Generator) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if strings.TrimSpace(prompt) == "" {
			yield("", generation.ErrEmptyPrompt)
			return
		}

		for attempt := 0; ; attempt++ {
			emitted, stopped, err := g.streamOnce(ctx, prompt, yield)
			if stopped || err == nil {
				return
			}

			g.logger.ErrorContext(ctx, "gemini stream failed",
				"attempt", attempt+1,
				"max_attempts", g.maxRetries+1,
				"chunks_emitted", emitted,
				"error", err)

			if emitted > 0 {
				yield("", fmt.Errorf("%w: stream interrupted: %v", generation.ErrGenerationFailed, err))
				return
			}
			if !g.retryable(ctx, err) {
				yield("", err)
				return
			}
			if attempt >= g.maxRetries {
				g.logger.WarnContext(ctx, "maximum retry attempts reached", "max_retries", g.maxRetries)
				yield("", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
					generation.ErrTransientFailure, g.maxRetries, err))
				return
			}

			delay := g.backoff(attempt)
			g.logger.InfoContext(ctx, "retrying after delay",
				"attempt", attempt+1,
				"delay_seconds", delay.Seconds())

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				yield("", fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err()))
				return
			}
		}
	}
}

// streamOnce runs one generation call. It reports how many chunks reached
// the consumer and whether the consumer stopped the iteration.
func (g *Generator) streamOnce(
	ctx context.Context,
	prompt string,
	yield func(string, error) bool,
) (emitted int, stopped bool, err error) {
	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}

	for resp, err := range g.models.GenerateContentStream(ctx, g.model, genai.Text(prompt), cfg) {
		if err != nil {
			return emitted, false, err
		}

		text, err := responseText(resp)
		if err != nil {
			return emitted, false, err
		}
		if text == "" {
			continue
		}

		emitted++
		if !yield(text, nil) {
			return emitted, true, nil
		}
	}

	if emitted == 0 {
		return 0, false, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	return emitted, false, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

func (g *Generator) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, generation.ErrContentBlocked) &&
		!errors.Is(err, generation.ErrInvalidResponse)
}

// backoff returns baseDelay * 2^attempt scaled by a jitter in [0.5, 1.0).
func (g *Generator) backoff(attempt int) time.Duration {
	g.rngMu.Lock()
	jitter := 0.5 + g.rng.Float64()*0.5
	g.rngMu.Unlock()

	return time.Duration(float64(g.baseDelay) * math.Pow(2, float64(attempt)) * jitter)
}
