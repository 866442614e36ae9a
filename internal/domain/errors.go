// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a task status change is not an
	// edge of the lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidKind is returned for an unknown task kind.
	ErrInvalidKind = errors.New("invalid task kind")

	// ErrInvalidStatus is returned for an unknown task status.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidParams is returned when task parameters do not fit the task kind.
	ErrInvalidParams = errors.New("invalid task parameters")

	// ErrInvalidWeights is returned when a weight configuration is unusable.
	ErrInvalidWeights = errors.New("invalid weight configuration")

	// ErrInvalidFilters is returned when a filter configuration is unusable.
	ErrInvalidFilters = errors.New("invalid filter configuration")
)
