package pipeline

import "errors"

var (
	// ErrScreeningEmpty is returned when screening yields no usable candidate.
	ErrScreeningEmpty = errors.New("screening produced no candidates")

	// ErrCancelled is returned when the run observed cancellation at a
	// checkpoint. Results analyzed before the checkpoint have been saved
	// unranked.
	ErrCancelled = errors.New("run cancelled")
)

var (
	errEmptyBars        = errors.New("no price history")
	errNoTechnicalScore = errors.New("technical score unavailable")
	errItemPanicked     = errors.New("item analysis panicked")
)
