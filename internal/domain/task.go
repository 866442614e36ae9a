package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskKind identifies how a task finds its candidate items.
type TaskKind string

// Supported task kinds.
const (
	KindDirectList     TaskKind = "direct-list"
	KindKeywordSearch  TaskKind = "keyword-search"
	KindMarketWide     TaskKind = "market-wide"
	KindBatchReanalyze TaskKind = "batch-reanalyze"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case KindDirectList, KindKeywordSearch, KindMarketWide, KindBatchReanalyze:
		return true
	}
	return false
}

// OpenEnded reports whether the kind discovers its own candidates, in which
// case the selection count falls back to a policy default.
func (k TaskKind) OpenEnded() bool {
	return k == KindKeywordSearch || k == KindMarketWide
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task status values.
const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether no run is associated with the status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions holds the legal edges of the task state machine.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:    {StatusPending},
	StatusCancelled: {StatusPending},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Pipeline phases, in execution order.
const (
	PhaseScreening = "screening"
	PhaseAnalysis  = "analysis"
	PhaseRanking   = "ranking"
)

// Priority bounds.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// TaskSummary holds human-readable descriptions of what a task was asked to
// do and how it went about it.
type TaskSummary struct {
	UserInput  string   `json:"user_input,omitempty"`
	Filters    string   `json:"filters,omitempty"`
	Strategy   string   `json:"strategy,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// Task is one orchestrated recommendation run.
type Task struct {
	ID       string     `json:"id"`
	Kind     TaskKind   `json:"kind"`
	Status   TaskStatus `json:"status"`
	Priority int        `json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Params  TaskParams `json:"params"`
	Weights Weights    `json:"weights"`
	Filters Filters    `json:"filters"`

	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	CurrentPhase string  `json:"current_phase,omitempty"`
	CurrentItem  string  `json:"current_item,omitempty"`
	Progress     float64 `json:"progress"`
	SuccessCount int     `json:"success_count"`
	FailedCount  int     `json:"failed_count"`

	ErrorMessage         *string  `json:"error_message,omitempty"`
	RetryCount           int      `json:"retry_count"`
	FinalRecommendations int      `json:"final_recommendations"`
	ExecutionSeconds     *float64 `json:"execution_seconds,omitempty"`

	Summary TaskSummary `json:"summary"`
}

// NewTaskID returns a 32 character hex identifier.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTask creates a pending task after validating that the parameters fit
// the kind. A zero priority selects DefaultPriority.
func NewTask(kind TaskKind, params TaskParams, weights Weights, filters Filters, priority int) (*Task, error) {
	if priority == 0 {
		priority = DefaultPriority
	}

	now := time.Now().UTC()
	t := &Task{
		ID:        NewTaskID(),
		Kind:      kind,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
		Params:    params.Normalized(kind),
		Weights:   weights,
		Filters:   filters,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	t.Summary = TaskSummary{
		UserInput: t.Params.Describe(kind),
		Filters:   t.Filters.Describe(),
		Strategy:  strategyFor(kind),
	}

	return t, nil
}

// Validate checks the task's static attributes.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d",
			ErrValidation, MinPriority, MaxPriority)
	}
	if err := t.Params.ValidateFor(t.Kind); err != nil {
		return err
	}
	if err := t.Weights.Validate(); err != nil {
		return err
	}
	return t.Filters.Validate()
}

// TransitionTo moves the task to the given status and stamps the matching
// timestamps. It returns ErrInvalidTransition for an illegal edge and leaves
// the task untouched in that case.
func (t *Task) TransitionTo(to TaskStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	t.Status = to
	t.UpdatedAt = now

	switch to {
	case StatusRunning:
		t.StartedAt = &now
		t.CompletedAt = nil
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = &now
		if t.StartedAt != nil {
			secs := now.Sub(*t.StartedAt).Seconds()
			t.ExecutionSeconds = &secs
		}
	}
	return nil
}

// Fail moves a running task to failed and records the message.
func (t *Task) Fail(message string, now time.Time) error {
	if err := t.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	t.ErrorMessage = &message
	return nil
}

// ResetForRetry returns a failed or cancelled task to pending with all run
// state cleared and the retry counter incremented.
func (t *Task) ResetForRetry(now time.Time) error {
	if err := t.TransitionTo(StatusPending, now); err != nil {
		return err
	}

	t.StartedAt = nil
	t.CompletedAt = nil
	t.Total = 0
	t.Completed = 0
	t.CurrentPhase = ""
	t.CurrentItem = ""
	t.Progress = 0
	t.SuccessCount = 0
	t.FailedCount = 0
	t.ErrorMessage = nil
	t.FinalRecommendations = 0
	t.ExecutionSeconds = nil
	t.Summary.Candidates = nil
	t.RetryCount++
	return nil
}

// RecordItem counts one finished item, keeping Completed within Total.
func (t *Task) RecordItem(ok bool) {
	if ok {
		t.SuccessCount++
	} else {
		t.FailedCount++
	}
	if t.Completed < t.Total {
		t.Completed++
	}
}

// Clone returns a deep copy that can be handed out without sharing state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.ErrorMessage != nil {
		msg := *t.ErrorMessage
		c.ErrorMessage = &msg
	}
	if t.ExecutionSeconds != nil {
		secs := *t.ExecutionSeconds
		c.ExecutionSeconds = &secs
	}
	c.Params = t.Params.clone()
	c.Filters = t.Filters.clone()
	c.Summary.Candidates = append([]string(nil), t.Summary.Candidates...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func strategyFor(kind TaskKind) string {
	switch kind {
	case KindKeywordSearch:
		return "generated keyword screening over the filtered universe, then streaming analysis and fused ranking"
	case KindMarketWide:
		return "random sample of the filtered universe, then streaming analysis and fused ranking"
	case KindBatchReanalyze:
		return "re-analysis of the supplied symbols with fused ranking"
	default:
		return "streaming analysis of the supplied symbols with fused ranking"
	}
}

// TaskStats counts tasks per status.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Add counts n tasks with the given status.
func (s *TaskStats) Add(status TaskStatus, n int) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusRunning:
		s.Running += n
	case StatusCompleted:
		s.Completed += n
	case StatusFailed:
		s.Failed += n
	case StatusCancelled:
		s.Cancelled += n
	}
}
