package store

import (
	"context"

	"github.com/phrazzld/signal-api/internal/domain"
)

// ProgressStore is the append-only progress event log.
type ProgressStore interface {
	// Append persists the event and assigns its Seq.
	Append(ctx context.Context, event *domain.ProgressEvent) error

	// Recent returns up to limit of the task's events, newest first. A
	// non-positive limit returns every event.
	Recent(ctx context.Context, taskID string, limit int) ([]*domain.ProgressEvent, error)

	// DeleteByTask removes every event of a task.
	DeleteByTask(ctx context.Context, taskID string) error
}
