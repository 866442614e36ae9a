package task

import (
	"context"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/pipeline"
)

// tracker applies a run's counter updates to the Manager's live copy of the
// task and writes each change through to the store.
type tracker struct {
	m *Manager
	r *run
}

var _ pipeline.Tracker = (*tracker)(nil)

func (tr *tracker) update(ctx context.Context, fn func(t *domain.Task)) {
	tr.m.mu.Lock()
	defer tr.m.mu.Unlock()

	fn(tr.r.task)
	if err := tr.m.tasks.Update(ctx, tr.r.task); err != nil {
		tr.m.logger.WarnContext(ctx, "failed to persist task progress",
			"task_id", tr.r.task.ID,
			"error", err)
	}
}

func (tr *tracker) SetPhase(ctx context.Context, phase string, progress float64) {
	tr.update(ctx, func(t *domain.Task) {
		t.CurrentPhase = phase
		if phase != domain.PhaseAnalysis {
			t.CurrentItem = ""
		}
		if progress > t.Progress {
			t.Progress = progress
		}
	})
}

func (tr *tracker) SetCandidates(ctx context.Context, symbols []string) {
	tr.update(ctx, func(t *domain.Task) {
		t.Total = len(symbols)
		t.Summary.Candidates = append([]string(nil), symbols...)
	})
}

func (tr *tracker) ItemStarted(ctx context.Context, symbol string) {
	tr.update(ctx, func(t *domain.Task) {
		t.CurrentItem = symbol
	})
}

func (tr *tracker) ItemFinished(ctx context.Context, symbol string, ok bool, progress float64) {
	tr.update(ctx, func(t *domain.Task) {
		t.RecordItem(ok)
		if progress > t.Progress {
			t.Progress = progress
		}
	})
}
