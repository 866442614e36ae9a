package store

import (
	"context"

	"github.com/phrazzld/signal-api/internal/domain"
)

// Limits for result listings.
const (
	DefaultResultLimit = 100
	MaxResultLimit     = 500
)

// ResultFilter selects the results of one task.
type ResultFilter struct {
	TaskID       string
	SelectedOnly bool
	Limit        int
}

// Normalize clamps Limit into [1, MaxResultLimit].
func (f ResultFilter) Normalize() ResultFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultResultLimit
	}
	if f.Limit > MaxResultLimit {
		f.Limit = MaxResultLimit
	}
	return f
}

// ResultStore defines the interface for result persistence.
type ResultStore interface {
	// SaveResults replaces all results of a task with the given set atomically.
	SaveResults(ctx context.Context, taskID string, results []*domain.Result) error

	// ListResults returns results ordered by rank; unranked results come last
	// in analysis order.
	ListResults(ctx context.Context, filter ResultFilter) ([]*domain.Result, error)

	// DeleteByTask removes every result of a task. Deleting nothing is not an error.
	DeleteByTask(ctx context.Context, taskID string) error
}
