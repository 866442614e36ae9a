package task

import (
	"errors"

	"github.com/phrazzld/signal-api/internal/domain"
)

var (
	// ErrCapacityReached is returned by Start when the concurrency ceiling
	// is reached. The task stays pending.
	ErrCapacityReached = errors.New("maximum number of running tasks reached")

	// ErrAlreadyRunning is returned when a run handle already exists for the task.
	ErrAlreadyRunning = errors.New("task is already running")

	// ErrInvalidTransition is returned when the task's status does not allow
	// the requested operation.
	ErrInvalidTransition = domain.ErrInvalidTransition

	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("task manager is shutting down")

	// ErrRunPanicked marks a run that ended in a recovered panic.
	ErrRunPanicked = errors.New("task run panicked")
)
