package store

import (
	"context"

	"github.com/phrazzld/signal-api/internal/domain"
)

// Pagination limits for task listings.
const (
	DefaultTaskLimit = 50
	MaxTaskLimit     = 200
)

// TaskFilter selects and pages tasks. Nil filters match everything.
type TaskFilter struct {
	Status *domain.TaskStatus
	Kind   *domain.TaskKind
	Limit  int
	Offset int
}

// Normalize clamps Limit into [1, MaxTaskLimit] and Offset to non-negative.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultTaskLimit
	}
	if f.Limit > MaxTaskLimit {
		f.Limit = MaxTaskLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// TaskStore defines the interface for task persistence.
type TaskStore interface {
	// Create saves a new task.
	// Returns ErrTaskExists if a task with the same ID is already stored.
	Create(ctx context.Context, task *domain.Task) error

	// Update overwrites the mutable fields of an existing task.
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id string) (*domain.Task, error)

	// List returns one page of tasks, newest first, and the number of tasks
	// matching the filter across all pages.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, int, error)

	// Stats counts all tasks by status.
	Stats(ctx context.Context) (domain.TaskStats, error)

	// FindByStatus returns every task in the given status, oldest first.
	FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)
}
