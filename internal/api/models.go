package api

import (
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/task"
)

// CreateTaskRequest is the body of POST /tasks and POST /tasks/run.
type CreateTaskRequest struct {
	Kind     string            `json:"kind"               validate:"required,oneof=direct-list keyword-search market-wide batch-reanalyze"`
	Params   TaskParamsRequest `json:"params"`
	Weights  *WeightsRequest   `json:"weights,omitempty"`
	Filters  *FiltersRequest   `json:"filters,omitempty"`
	Priority int               `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
}

// TaskParamsRequest carries the kind-specific parameters of a new task.
type TaskParamsRequest struct {
	Symbols       []string `json:"symbols,omitempty"        validate:"omitempty,max=500,dive,required,max=16"`
	Keyword       string   `json:"keyword,omitempty"        validate:"omitempty,max=200"`
	MaxCandidates int      `json:"max_candidates,omitempty" validate:"omitempty,min=1,max=500"`
	SelectCount   *int     `json:"select_count,omitempty"   validate:"omitempty,min=1"`
}

// WeightsRequest overrides individual analysis weights. Absent weights keep
// their default.
type WeightsRequest struct {
	Technical      *float64 `json:"technical,omitempty"       validate:"omitempty,min=0,max=1"`
	MacroSentiment *float64 `json:"macro_sentiment,omitempty" validate:"omitempty,min=0,max=1"`
	NewsEvents     *float64 `json:"news_events,omitempty"     validate:"omitempty,min=0,max=1"`
}

// FiltersRequest overrides the universe filters. Absent fields keep their default.
type FiltersRequest struct {
	ExcludeST    *bool    `json:"exclude_st,omitempty"`
	Boards       []string `json:"boards,omitempty"         validate:"omitempty,dive,oneof=main gem star"`
	MinMarketCap *float64 `json:"min_market_cap,omitempty" validate:"omitempty,min=0"`
	MaxMarketCap *float64 `json:"max_market_cap,omitempty" validate:"omitempty,min=0"`
}

// toCreateRequest converts the validated body into a manager request.
func (req CreateTaskRequest) toCreateRequest() task.CreateRequest {
	out := task.CreateRequest{
		Kind: domain.TaskKind(req.Kind),
		Params: domain.TaskParams{
			Symbols:       req.Params.Symbols,
			Keyword:       req.Params.Keyword,
			MaxCandidates: req.Params.MaxCandidates,
			SelectCount:   req.Params.SelectCount,
		},
		Priority: req.Priority,
	}

	if w := req.Weights; w != nil {
		weights := domain.DefaultWeights()
		if w.Technical != nil {
			weights.Technical = *w.Technical
		}
		if w.MacroSentiment != nil {
			weights.MacroSentiment = *w.MacroSentiment
		}
		if w.NewsEvents != nil {
			weights.NewsEvents = *w.NewsEvents
		}
		out.Weights = &weights
	}

	if f := req.Filters; f != nil {
		filters := domain.DefaultFilters()
		if f.ExcludeST != nil {
			filters.ExcludeST = *f.ExcludeST
		}
		for _, b := range f.Boards {
			filters.Boards = append(filters.Boards, domain.Board(b))
		}
		filters.MinMarketCap = f.MinMarketCap
		filters.MaxMarketCap = f.MaxMarketCap
		out.Filters = &filters
	}

	return out
}

// TaskCreatedResponse answers a successful create.
type TaskCreatedResponse struct {
	TaskID    string `json:"task_id"`
	StreamURL string `json:"stream_url"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// TaskActionResponse answers start, cancel and retry.
type TaskActionResponse struct {
	OK      bool   `json:"ok"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// TaskListResponse answers GET /tasks.
type TaskListResponse struct {
	Tasks      []*domain.Task   `json:"tasks"`
	Stats      domain.TaskStats `json:"stats"`
	Pagination Pagination       `json:"pagination"`
}

// ResultsResponse answers GET /tasks/{id}/results.
type ResultsResponse struct {
	TaskID  string           `json:"task_id"`
	Results []*domain.Result `json:"results"`
	Count   int              `json:"count"`
}

// ProgressResponse answers GET /tasks/{id}/progress.
type ProgressResponse struct {
	TaskID string                  `json:"task_id"`
	Events []*domain.ProgressEvent `json:"events"`
	Count  int                     `json:"count"`
}

// SystemStatusResponse answers GET /system/status.
type SystemStatusResponse struct {
	RunningTasks     int            `json:"running_tasks"`
	RunningTaskIDs   []string       `json:"running_task_ids"`
	MaxConcurrent    int            `json:"max_concurrent_tasks"`
	TotalConnections int            `json:"total_connections"`
	TaskConnections  map[string]int `json:"task_connections"`
	SystemHealth     string         `json:"system_health"`
}
