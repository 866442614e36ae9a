package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/pipeline"
	"github.com/phrazzld/signal-api/internal/redact"
	"github.com/phrazzld/signal-api/internal/store"
)

// Runner executes one task run. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, task *domain.Task, tr pipeline.Tracker) (*pipeline.Outcome, error)
}

// recoveredMessage is recorded on tasks found running at startup.
const recoveredMessage = "task was interrupted by a server restart"

// Config holds the Manager's collaborators.
type Config struct {
	Tasks         store.TaskStore
	Results       store.ResultStore
	Progress      store.ProgressStore
	Publisher     pipeline.Publisher
	Runner        Runner
	MaxConcurrent int
}

// run is the handle of one executing task. It exists from a successful
// Start until its goroutine exits.
type run struct {
	task   *domain.Task
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns task records and their runs. While a task runs, the Manager
// holds the authoritative copy and every mutation of it goes through the
// Manager's lock before being written to the store.
type Manager struct {
	tasks         store.TaskStore
	results       store.ResultStore
	progress      store.ProgressStore
	publisher     pipeline.Publisher
	runner        Runner
	maxConcurrent int
	logger        *slog.Logger

	mu      sync.Mutex
	runs    map[string]*run
	closing bool
	wg      sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	switch {
	case cfg.Tasks == nil:
		return nil, errors.New("task store cannot be nil")
	case cfg.Results == nil:
		return nil, errors.New("result store cannot be nil")
	case cfg.Progress == nil:
		return nil, errors.New("progress store cannot be nil")
	case cfg.Publisher == nil:
		return nil, errors.New("publisher cannot be nil")
	case cfg.Runner == nil:
		return nil, errors.New("runner cannot be nil")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}

	return &Manager{
		tasks:         cfg.Tasks,
		results:       cfg.Results,
		progress:      cfg.Progress,
		publisher:     cfg.Publisher,
		runner:        cfg.Runner,
		maxConcurrent: cfg.MaxConcurrent,
		logger:        logger.With("component", "task_manager"),
		runs:          make(map[string]*run),
	}, nil
}

// CreateRequest describes a new task. Nil weights and filters select the
// defaults; a zero priority selects domain.DefaultPriority.
type CreateRequest struct {
	Kind     domain.TaskKind
	Params   domain.TaskParams
	Weights  *domain.Weights
	Filters  *domain.Filters
	Priority int
}

// Create validates the request and stores a pending task. It does not start it.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Task, error) {
	weights := domain.DefaultWeights()
	if req.Weights != nil {
		weights = *req.Weights
	}
	filters := domain.DefaultFilters()
	if req.Filters != nil {
		filters = *req.Filters
	}

	t, err := domain.NewTask(req.Kind, req.Params, weights, filters, req.Priority)
	if err != nil {
		return nil, err
	}
	if err := m.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	m.logger.InfoContext(ctx, "task created",
		"task_id", t.ID,
		"kind", string(t.Kind),
		"priority", t.Priority)
	return t.Clone(), nil
}

// Start moves a pending task to running and launches its run. It fails with
// ErrAlreadyRunning, ErrCapacityReached, store.ErrTaskNotFound or
// ErrInvalidTransition and changes nothing in that case.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return ErrShuttingDown
	}
	if _, ok := m.runs[id]; ok {
		return ErrAlreadyRunning
	}
	if len(m.runs) >= m.maxConcurrent {
		return fmt.Errorf("%w: %d of %d", ErrCapacityReached, len(m.runs), m.maxConcurrent)
	}

	t, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == domain.StatusRunning {
		return ErrAlreadyRunning
	}
	if err := t.TransitionTo(domain.StatusRunning, time.Now().UTC()); err != nil {
		return err
	}
	if err := m.tasks.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{task: t, cancel: cancel, done: make(chan struct{})}
	m.runs[id] = r
	m.wg.Add(1)
	go m.execute(runCtx, r, t.Clone())

	m.logger.InfoContext(ctx, "task started",
		"task_id", id,
		"running", len(m.runs),
		"max_concurrent", m.maxConcurrent)
	return nil
}

func (m *Manager) execute(ctx context.Context, r *run, snapshot *domain.Task) {
	defer m.wg.Done()
	defer m.release(r)
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("task run panicked",
				"task_id", snapshot.ID,
				"panic", p,
				"stack", string(debug.Stack()))
			err := fmt.Errorf("%w: %v", ErrRunPanicked, p)
			m.emitError(snapshot.ID, err)
			m.finish(r, nil, err)
		}
	}()

	outcome, err := m.runner.Run(ctx, snapshot, &tracker{m: m, r: r})
	m.finish(r, outcome, err)
}

// release drops the run handle, freeing its slot.
func (m *Manager) release(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[r.task.ID] == r {
		delete(m.runs, r.task.ID)
	}
	r.cancel()
	close(r.done)
}

// finish records the final status of a run. A task cancelled through Cancel
// keeps its status.
func (m *Manager) finish(r *run, outcome *pipeline.Outcome, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := r.task
	logger := m.logger.With("task_id", t.ID)
	if t.Status != domain.StatusRunning {
		logger.Info("run ended after task left running", "status", string(t.Status))
		return
	}

	now := time.Now().UTC()
	switch {
	case runErr == nil:
		if err := t.TransitionTo(domain.StatusCompleted, now); err != nil {
			logger.Error("failed to complete task", "error", err)
			return
		}
		t.Progress = 100
		t.CurrentItem = ""
		if outcome != nil {
			t.FinalRecommendations = outcome.Selected
		}
		logger.Info("task completed", "selected", t.FinalRecommendations)
	case errors.Is(runErr, pipeline.ErrCancelled):
		if err := t.TransitionTo(domain.StatusCancelled, now); err != nil {
			logger.Error("failed to cancel task", "error", err)
			return
		}
		logger.Info("task cancelled")
	default:
		if err := t.Fail(redact.Error(runErr), now); err != nil {
			logger.Error("failed to fail task", "error", err)
			return
		}
		logger.Error("task failed", "error", runErr)
	}

	if err := m.tasks.Update(context.Background(), t); err != nil {
		logger.Error("failed to persist final task status", "error", err)
	}
}

// Cancel stops a running task. The task becomes cancelled at once; the run
// stops at its next checkpoint and results analyzed so far are kept unranked.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		t, err := m.tasks.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: cannot cancel a %s task", ErrInvalidTransition, t.Status)
	}

	if err := r.task.TransitionTo(domain.StatusCancelled, time.Now().UTC()); err != nil {
		m.mu.Unlock()
		return err
	}
	r.cancel()
	if err := m.tasks.Update(ctx, r.task); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist cancellation", "task_id", id, "error", err)
	}
	m.mu.Unlock()

	m.emit(id, domain.EventError, map[string]any{
		"message":   "task cancelled",
		"cancelled": true,
	})
	m.logger.InfoContext(ctx, "task cancel requested", "task_id", id)
	return nil
}

// Retry returns a failed or cancelled task to pending with a clean slate:
// counters, timestamps and error are reset and its results and progress
// events are deleted. It fails with ErrAlreadyRunning while the previous run
// is still winding down.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; ok {
		return ErrAlreadyRunning
	}

	t, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != domain.StatusFailed && t.Status != domain.StatusCancelled {
		return fmt.Errorf("%w: cannot retry a %s task", ErrInvalidTransition, t.Status)
	}

	if err := m.results.DeleteByTask(ctx, id); err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}
	if err := m.progress.DeleteByTask(ctx, id); err != nil {
		return fmt.Errorf("failed to delete progress events: %w", err)
	}
	if err := t.ResetForRetry(time.Now().UTC()); err != nil {
		return err
	}
	if err := m.tasks.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to reset task: %w", err)
	}

	m.logger.InfoContext(ctx, "task reset for retry", "task_id", id, "retry_count", t.RetryCount)
	return nil
}

// Get returns the task. A running task is served from its live copy.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	if r, ok := m.runs[id]; ok {
		t := r.task.Clone()
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()
	return m.tasks.GetByID(ctx, id)
}

// Page is one page of a task listing.
type Page struct {
	Tasks   []*domain.Task
	Stats   domain.TaskStats
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// List returns one page of tasks, newest first, with status counts over all tasks.
func (m *Manager) List(ctx context.Context, filter store.TaskFilter) (*Page, error) {
	filter = filter.Normalize()

	tasks, total, err := m.tasks.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	stats, err := m.tasks.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	return &Page{
		Tasks:   tasks,
		Stats:   stats,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: filter.Offset+len(tasks) < total,
	}, nil
}

// Results returns the task's results ordered by rank, unranked last.
func (m *Manager) Results(ctx context.Context, filter store.ResultFilter) ([]*domain.Result, error) {
	if _, err := m.tasks.GetByID(ctx, filter.TaskID); err != nil {
		return nil, err
	}
	return m.results.ListResults(ctx, filter.Normalize())
}

// Progress returns up to limit of the task's most recent events, oldest first.
func (m *Manager) Progress(ctx context.Context, id string, limit int) ([]*domain.ProgressEvent, error) {
	if _, err := m.tasks.GetByID(ctx, id); err != nil {
		return nil, err
	}
	events, err := m.progress.Recent(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress events: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// RunningCount returns the number of live run handles.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// RunningIDs returns the ids of the tasks with a live run handle, sorted.
func (m *Manager) RunningIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// MaxConcurrent returns the concurrency ceiling.
func (m *Manager) MaxConcurrent() int {
	return m.maxConcurrent
}

// Recover marks tasks that a previous process left running as failed. It
// must be called before the first Start.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	stale, err := m.tasks.FindByStatus(ctx, domain.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to find running tasks: %w", err)
	}

	recovered := 0
	for _, t := range stale {
		if err := t.Fail(recoveredMessage, time.Now().UTC()); err != nil {
			m.logger.ErrorContext(ctx, "failed to fail interrupted task", "task_id", t.ID, "error", err)
			continue
		}
		if err := m.tasks.Update(ctx, t); err != nil {
			m.logger.ErrorContext(ctx, "failed to persist interrupted task", "task_id", t.ID, "error", err)
			continue
		}
		recovered++
	}

	if len(stale) > 0 {
		m.logger.InfoContext(ctx, "recovered interrupted tasks",
			"found", len(stale),
			"recovered", recovered)
	}
	return recovered, nil
}

// Shutdown refuses new starts, cancels every run and waits for the run
// goroutines to exit or ctx to end. Interrupted tasks end up cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, r := range m.runs {
		r.cancel()
	}
	running := len(m.runs)
	m.mu.Unlock()

	m.logger.Info("shutting down task manager", "running", running)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task manager shutdown: %w", ctx.Err())
	}
}

// Wait blocks until the task's current run, if any, has exited.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) emit(taskID string, kind domain.EventKind, payload any) {
	event, err := domain.NewProgressEvent(taskID, kind, "", "", payload)
	if err != nil {
		m.logger.Error("failed to build progress event", "task_id", taskID, "error", err)
		return
	}
	if err := m.publisher.Publish(context.Background(), event); err != nil {
		m.logger.Warn("failed to publish progress event", "task_id", taskID, "error", err)
	}
}

func (m *Manager) emitError(taskID string, err error) {
	m.emit(taskID, domain.EventError, map[string]any{"message": redact.Error(err)})
}
