package mocks

import (
	"context"
	"iter"
	"sync"

	"github.com/phrazzld/signal-api/internal/generation"
)

var _ generation.Streamer = (*MockStreamer)(nil)

// MockStreamer implements generation.Streamer for testing.
type MockStreamer struct {
	// StreamFn allows test cases to script the stream per prompt.
	StreamFn func(ctx context.Context, prompt string) iter.Seq2[string, error]

	// Default response: Chunks are yielded in order, then Err if set.
	Chunks []string
	Err    error

	mu      sync.Mutex
	prompts []string
}

// NewMockStreamerWithText creates a MockStreamer that yields the given chunks.
func NewMockStreamerWithText(chunks ...string) *MockStreamer {
	return &MockStreamer{Chunks: chunks}
}

// NewMockStreamerWithError creates a MockStreamer that fails before any output.
func NewMockStreamerWithError(err error) *MockStreamer {
	return &MockStreamer{Err: err}
}

// Stream implements generation.Streamer.
func (m *MockStreamer) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.StreamFn != nil {
		return m.StreamFn(ctx, prompt)
	}
	return Script(m.Chunks, m.Err)
}

// CallCount returns how many streams were opened.
func (m *MockStreamer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt received, in call order.
func (m *MockStreamer) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Reset clears the recorded calls.
func (m *MockStreamer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
}

// Script returns a sequence that yields chunks and then err, if non-nil.
func Script(chunks []string, err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}
