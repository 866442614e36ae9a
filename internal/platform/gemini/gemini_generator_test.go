package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// scriptedAttempt describes what one GenerateContentStream call produces.
type scriptedAttempt struct {
	chunks  []string
	err     error
	blocked bool
}

type fakeModels struct {
	mu       sync.Mutex
	attempts []scriptedAttempt
	calls    int
	lastCfg  *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContentStream(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.mu.Lock()
	idx := min(f.calls, len(f.attempts)-1)
	f.calls++
	f.lastCfg = cfg
	a := f.attempts[idx]
	f.mu.Unlock()

	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range a.chunks {
			resp := &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: c}}},
				}},
			}
			if !yield(resp, nil) {
				return
			}
		}
		if a.blocked {
			yield(&genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			}, nil)
			return
		}
		if a.err != nil {
			yield(nil, a.err)
		}
	}
}

func (f *fakeModels) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testGenerator(models *fakeModels, maxRetries int) *Generator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := newGenerator(logger, config.LLMConfig{
		ModelName:         "gemini-test",
		Temperature:       0.3,
		MaxRetries:        maxRetries,
		RetryDelaySeconds: 1,
	}, models)
	g.baseDelay = time.Millisecond
	return g
}

func TestGenerator_Stream(t *testing.T) {
	t.Parallel()

	t.Run("yields every chunk", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{{chunks: []string{"Final ", "advice: buy ", "(confidence 8/10)"}}}}

		text, err := generation.Collect(context.Background(), testGenerator(models, 2), "analyze", nil)
		require.NoError(t, err)
		assert.Equal(t, "Final advice: buy (confidence 8/10)", text)
		assert.Equal(t, 1, models.callCount())
		require.NotNil(t, models.lastCfg.Temperature)
		assert.InDelta(t, 0.3, *models.lastCfg.Temperature, 1e-6)
	})

	t.Run("retries failures before the first chunk", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{
			{err: errors.New("connection reset")},
			{err: errors.New("connection reset")},
			{chunks: []string{"ok"}},
		}}

		text, err := generation.Collect(context.Background(), testGenerator(models, 3), "analyze", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
		assert.Equal(t, 3, models.callCount())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{{err: errors.New("unavailable")}}}

		_, err := generation.Collect(context.Background(), testGenerator(models, 2), "analyze", nil)
		assert.ErrorIs(t, err, generation.ErrTransientFailure)
		assert.Equal(t, 3, models.callCount())
	})

	t.Run("does not retry after output", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{{chunks: []string{"partial"}, err: errors.New("eof")}}}

		text, err := generation.Collect(context.Background(), testGenerator(models, 3), "analyze", nil)
		assert.ErrorIs(t, err, generation.ErrGenerationFailed)
		assert.Equal(t, "partial", text)
		assert.Equal(t, 1, models.callCount())
	})

	t.Run("safety block is permanent", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{{blocked: true}}}

		_, err := generation.Collect(context.Background(), testGenerator(models, 3), "analyze", nil)
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
		assert.Equal(t, 1, models.callCount())
	})

	t.Run("empty response is permanent", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{{}}}

		_, err := generation.Collect(context.Background(), testGenerator(models, 3), "analyze", nil)
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
		assert.Equal(t, 1, models.callCount())
	})

	t.Run("empty prompt", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{{chunks: []string{"x"}}}}

		_, err := generation.Collect(context.Background(), testGenerator(models, 0), "  ", nil)
		assert.ErrorIs(t, err, generation.ErrEmptyPrompt)
		assert.Zero(t, models.callCount())
	})

	t.Run("consumer can stop early", func(t *testing.T) {
		t.Parallel()
		models := &fakeModels{attempts: []scriptedAttempt{{chunks: []string{"a", "b", "c"}}}}

		var got []string
		for chunk, err := range testGenerator(models, 0).Stream(context.Background(), "analyze") {
			require.NoError(t, err)
			got = append(got, chunk)
			break
		}
		assert.Equal(t, []string{"a"}, got)
	})

	t.Run("cancelled context is not retried", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		models := &fakeModels{attempts: []scriptedAttempt{{err: context.Canceled}}}

		_, err := generation.Collect(ctx, testGenerator(models, 3), "analyze", nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, models.callCount())
	})
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	g := testGenerator(&fakeModels{attempts: []scriptedAttempt{{}}}, 0)
	g.baseDelay = time.Second

	for attempt := 0; attempt < 4; attempt++ {
		d := g.backoff(attempt)
		full := time.Second << attempt
		assert.GreaterOrEqual(t, d, full/2)
		assert.Less(t, d, full)
	}
}
