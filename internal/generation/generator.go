package generation

import (
	"context"
	"iter"
	"strings"
)

// Streamer generates text for a prompt.
//
// Stream yields chunks of output in order. An error ends the sequence: it is
// yielded once as the final element and no chunks follow it. Implementations
// stop producing output when the consumer breaks out of the range loop or
// ctx is cancelled.
type Streamer interface {
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Collect drains a stream into one string. onChunk, when non-nil, sees every
// chunk before it is appended. The text gathered before a failure is returned
// together with the error.
func Collect(ctx context.Context, s Streamer, prompt string, onChunk func(string)) (string, error) {
	var b strings.Builder
	for chunk, err := range s.Stream(ctx, prompt) {
		if err != nil {
			return b.String(), err
		}
		if onChunk != nil {
			onChunk(chunk)
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
