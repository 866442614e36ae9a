package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/signal-api/internal/api/shared"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/platform/logger"
	"github.com/phrazzld/signal-api/internal/store"
	"github.com/phrazzld/signal-api/internal/task"
)

// Progress listing limits.
const (
	defaultProgressLimit = 50
	maxProgressLimit     = 1000
)

// TaskService is the task lifecycle the handlers drive.
type TaskService interface {
	Create(ctx context.Context, req task.CreateRequest) (*domain.Task, error)
	Start(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, filter store.TaskFilter) (*task.Page, error)
	Results(ctx context.Context, filter store.ResultFilter) ([]*domain.Result, error)
	Progress(ctx context.Context, id string, limit int) ([]*domain.ProgressEvent, error)
	RunningIDs() []string
	MaxConcurrent() int
}

// TaskHandler handles task HTTP requests.
type TaskHandler struct {
	tasks     TaskService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks TaskService, logger *slog.Logger) *TaskHandler {
	if tasks == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("tasks cannot be nil for TaskHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		tasks:     tasks,
		validator: validator.New(),
		logger:    logger.With(slog.String("component", "task_handler")),
	}
}

// decodeCreate reads and validates a create body, writing the error response
// itself on failure.
func (h *TaskHandler) decodeCreate(w http.ResponseWriter, r *http.Request, log *slog.Logger) (task.CreateRequest, bool) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("invalid request body", slog.String("error", err.Error()))
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err, "")
		} else {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		}
		return task.CreateRequest{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		HandleAPIError(w, r, err, "")
		return task.CreateRequest{}, false
	}
	return req.toCreateRequest(), true
}

// CreateTask handles POST /tasks. The task is stored pending.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	req, ok := h.decodeCreate(w, r, log)
	if !ok {
		return
	}

	t, err := h.tasks.Create(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, TaskCreatedResponse{
		TaskID:    t.ID,
		StreamURL: streamURL(t.ID),
		Status:    string(t.Status),
		Message:   "task created",
	})
}

// RunTask handles POST /tasks/run: create followed by start. When the start
// is refused the pending task is kept and reported with ok false.
func (h *TaskHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	req, ok := h.decodeCreate(w, r, log)
	if !ok {
		return
	}

	t, err := h.tasks.Create(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	if err := h.tasks.Start(r.Context(), t.ID); err != nil {
		log.Info("created task could not be started",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()))
		h.respondActionError(w, r, t.ID, err, "Failed to start task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskCreatedResponse{
		TaskID:    t.ID,
		StreamURL: streamURL(t.ID),
		Status:    string(domain.StatusRunning),
		Message:   "task started",
	})
}

// StartTask handles POST /tasks/{id}/start.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.tasks.Start, "task started", "Failed to start task")
}

// CancelTask handles POST /tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.tasks.Cancel, "task cancelled", "Failed to cancel task")
}

// RetryTask handles POST /tasks/{id}/retry. The task returns to pending and
// must be started again.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.tasks.Retry, "task reset to pending", "Failed to retry task")
}

// action runs one lifecycle operation and reports the resulting status.
func (h *TaskHandler) action(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id string) error,
	success, failure string,
) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := handlePathTaskID(w, r, log)
	if !ok {
		return
	}

	if err := op(r.Context(), id); err != nil {
		h.respondActionError(w, r, id, err, failure)
		return
	}

	resp := TaskActionResponse{OK: true, TaskID: id, Message: success}
	if t, err := h.tasks.Get(r.Context(), id); err == nil {
		resp.Status = string(t.Status)
	} else {
		log.Warn("failed to read task after action", slog.String("task_id", id), slog.String("error", err.Error()))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// respondActionError answers a refused lifecycle operation with ok false.
func (h *TaskHandler) respondActionError(w http.ResponseWriter, r *http.Request, id string, err error, failure string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError {
		message = failure
	}

	var opts []shared.ResponseOption
	if errors.Is(err, task.ErrCapacityReached) {
		opts = append(opts, shared.WithElevatedLogLevel())
	}

	resp := TaskActionResponse{
		OK:      false,
		TaskID:  id,
		Message: message,
		TraceID: shared.GetTraceID(r.Context()),
	}
	if t, getErr := h.tasks.Get(r.Context(), id); getErr == nil {
		resp.Status = string(t.Status)
	}

	shared.LogAPIError(r, status, message, err, opts...)
	shared.RespondWithJSON(w, r, status, resp)
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := handlePathTaskID(w, r, log)
	if !ok {
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// ListTasks handles GET /tasks?status=&kind=&limit=&offset=.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var filter store.TaskFilter

	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status := domain.TaskStatus(raw)
		if !status.Valid() {
			HandleAPIError(w, r, domain.ErrInvalidStatus, "")
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("kind"); raw != "" {
		kind := domain.TaskKind(raw)
		if !kind.Valid() {
			HandleAPIError(w, r, domain.ErrInvalidKind, "")
			return
		}
		filter.Kind = &kind
	}

	var err error
	if filter.Limit, err = shared.QueryInt(r, "limit", store.DefaultTaskLimit); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = shared.QueryInt(r, "offset", 0); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	tasks := page.Tasks
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{
		Tasks: tasks,
		Stats: page.Stats,
		Pagination: Pagination{
			Total:   page.Total,
			Limit:   page.Limit,
			Offset:  page.Offset,
			HasMore: page.HasMore,
		},
	})
}

// GetResults handles GET /tasks/{id}/results?selected_only=&limit=.
func (h *TaskHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := handlePathTaskID(w, r, log)
	if !ok {
		return
	}

	selectedOnly, err := shared.QueryBool(r, "selected_only")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := shared.QueryInt(r, "limit", store.DefaultResultLimit)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.tasks.Results(r.Context(), store.ResultFilter{
		TaskID:       id,
		SelectedOnly: selectedOnly,
		Limit:        limit,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task results")
		return
	}
	if results == nil {
		results = []*domain.Result{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ResultsResponse{
		TaskID:  id,
		Results: results,
		Count:   len(results),
	})
}

// GetProgress handles GET /tasks/{id}/progress?limit=.
func (h *TaskHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := handlePathTaskID(w, r, log)
	if !ok {
		return
	}

	limit, err := shared.QueryInt(r, "limit", defaultProgressLimit)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 {
		limit = defaultProgressLimit
	}
	if limit > maxProgressLimit {
		limit = maxProgressLimit
	}

	events, err := h.tasks.Progress(r.Context(), id, limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task progress")
		return
	}
	if events == nil {
		events = []*domain.ProgressEvent{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ProgressResponse{
		TaskID: id,
		Events: events,
		Count:  len(events),
	})
}
