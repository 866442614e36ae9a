package shared

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type of request-scoped values set by this package.
type ContextKey string

const (
	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDHeader lets a caller supply its own trace ID.
	TraceIDHeader = "X-Trace-ID"

	// TraceIDLength is the length of a trace ID in hex characters.
	TraceIDLength = 32
)

// SetTraceID adds a freshly generated trace ID to the context.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// WithTraceID adds the given trace ID to the context when it is well formed
// and a generated one otherwise.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	traceID = strings.ToLower(strings.TrimSpace(traceID))
	if !validTraceID(traceID) {
		return SetTraceID(ctx)
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID returns a random 32 character hex string.
func generateTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func validTraceID(s string) bool {
	if len(s) != TraceIDLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
