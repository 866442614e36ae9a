package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/events"
	"github.com/phrazzld/signal-api/internal/pipeline"
	"github.com/phrazzld/signal-api/internal/store/memory"
	"github.com/phrazzld/signal-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const missingTaskID = "0123456789abcdef0123456789abcdef"

// heldRunner keeps every run going until release is closed or the run is
// cancelled.
type heldRunner struct {
	release     chan struct{}
	releaseOnce sync.Once
}

func (h *heldRunner) Run(ctx context.Context, t *domain.Task, tr pipeline.Tracker) (*pipeline.Outcome, error) {
	tr.SetCandidates(ctx, t.Params.Symbols)
	select {
	case <-h.release:
		for i, s := range t.Params.Symbols {
			tr.ItemFinished(ctx, s, true, float64(i+1)/float64(len(t.Params.Symbols))*100)
		}
		return &pipeline.Outcome{Analyzed: len(t.Params.Symbols), Selected: 1}, nil
	case <-ctx.Done():
		return &pipeline.Outcome{}, pipeline.ErrCancelled
	}
}

func (h *heldRunner) releaseAll() {
	h.releaseOnce.Do(func() { close(h.release) })
}

type apiFixture struct {
	router      http.Handler
	manager     *task.Manager
	runner      *heldRunner
	broadcaster *events.Broadcaster
	results     *memory.ResultStore
	progress    *memory.ProgressStore
}

func newAPIFixture(t *testing.T, maxConcurrent int) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &apiFixture{
		runner:   &heldRunner{release: make(chan struct{})},
		results:  memory.NewResultStore(),
		progress: memory.NewProgressStore(),
	}

	f.broadcaster = events.NewBroadcaster(f.progress, logger, config.BroadcastConfig{
		QueueSize:         100,
		ReplayLimit:       10,
		HeartbeatInterval: time.Hour,
		SweepInterval:     time.Hour,
		LivenessTimeout:   2 * time.Hour,
	})
	f.broadcaster.Start()
	t.Cleanup(f.broadcaster.Stop)

	m, err := task.NewManager(task.Config{
		Tasks:         memory.NewTaskStore(),
		Results:       f.results,
		Progress:      f.progress,
		Publisher:     f.broadcaster,
		Runner:        f.runner,
		MaxConcurrent: maxConcurrent,
	}, logger)
	require.NoError(t, err)
	f.manager = m
	t.Cleanup(func() {
		f.runner.releaseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	r := chi.NewRouter()
	r.Route("/api/v2", func(r chi.Router) {
		RegisterRoutes(r, Handlers{
			Tasks:  NewTaskHandler(m, logger),
			Stream: NewStreamHandler(m, f.broadcaster, logger),
			System: NewSystemHandler(m, f.broadcaster, logger),
		})
	})
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) create(t *testing.T, symbols ...string) string {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{"600000", "600036"}
	}
	quoted, err := json.Marshal(symbols)
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/v2/tasks",
		fmt.Sprintf(`{"kind":"direct-list","params":{"symbols":%s}}`, quoted))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp TaskCreatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.TaskID
}

func (f *apiFixture) waitRun(t *testing.T, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.manager.Wait(ctx, id))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	t.Run("valid request", func(t *testing.T) {
		t.Parallel()
		f := newAPIFixture(t, 3)

		w := f.do(t, http.MethodPost, "/api/v2/tasks", `{
			"kind": "keyword-search",
			"params": {"keyword": "new energy", "max_candidates": 8},
			"weights": {"technical": 0.6},
			"filters": {"boards": ["main", "gem"]},
			"priority": 7
		}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		resp := decode[TaskCreatedResponse](t, w)
		assert.Len(t, resp.TaskID, 32)
		assert.Equal(t, "/api/v2/stream/"+resp.TaskID, resp.StreamURL)
		assert.Equal(t, string(domain.StatusPending), resp.Status)

		got := decode[domain.Task](t, f.do(t, http.MethodGet, "/api/v2/tasks/"+resp.TaskID, ""))
		assert.Equal(t, domain.KindKeywordSearch, got.Kind)
		assert.Equal(t, 7, got.Priority)
		assert.Equal(t, 8, got.Params.MaxCandidates)
		assert.InDelta(t, 0.6, got.Weights.Technical, 1e-9)
		assert.InDelta(t, 0.35, got.Weights.MacroSentiment, 1e-9)
		assert.True(t, got.Filters.ExcludeST)
		assert.Equal(t, []domain.Board{domain.BoardMain, domain.BoardGEM}, got.Filters.Boards)
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"kind":`},
		{name: "unknown kind", body: `{"kind":"everything","params":{}}`},
		{name: "unknown field", body: `{"kind":"direct-list","params":{"symbols":["600000"]},"colour":"red"}`},
		{name: "symbols missing", body: `{"kind":"direct-list","params":{}}`},
		{name: "keyword missing", body: `{"kind":"keyword-search","params":{}}`},
		{name: "priority out of range", body: `{"kind":"market-wide","params":{},"priority":11}`},
		{name: "unknown board", body: `{"kind":"market-wide","params":{},"filters":{"boards":["otc"]}}`},
		{name: "weight above one", body: `{"kind":"market-wide","params":{},"weights":{"technical":1.5}}`},
		{name: "select count zero", body: `{"kind":"market-wide","params":{"select_count":0}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newAPIFixture(t, 3)

			w := f.do(t, http.MethodPost, "/api/v2/tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			resp := decode[map[string]any](t, w)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)
	id := f.create(t)
	base := "/api/v2/tasks/" + id

	w := f.do(t, http.MethodPost, base+"/start", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[TaskActionResponse](t, w)
	assert.True(t, resp.OK)
	assert.Equal(t, id, resp.TaskID)
	assert.Equal(t, string(domain.StatusRunning), resp.Status)

	w = f.do(t, http.MethodPost, base+"/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	resp = decode[TaskActionResponse](t, w)
	assert.False(t, resp.OK)
	assert.Equal(t, string(domain.StatusRunning), resp.Status)

	w = f.do(t, http.MethodPost, base+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode[TaskActionResponse](t, w)
	assert.True(t, resp.OK)
	assert.Equal(t, string(domain.StatusCancelled), resp.Status)

	f.waitRun(t, id)

	w = f.do(t, http.MethodPost, base+"/retry", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode[TaskActionResponse](t, w)
	assert.Equal(t, string(domain.StatusPending), resp.Status)

	got := decode[domain.Task](t, f.do(t, http.MethodGet, base, ""))
	assert.Equal(t, 1, got.RetryCount)

	// pending tasks can be neither cancelled nor retried
	w = f.do(t, http.MethodPost, base+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, decode[TaskActionResponse](t, w).OK)

	w = f.do(t, http.MethodPost, base+"/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// a retried task runs to completion once started again
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/start", "").Code)
	f.runner.releaseAll()
	f.waitRun(t, id)

	got = decode[domain.Task](t, f.do(t, http.MethodGet, base, ""))
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Completed)
}

func TestTaskEndpointsUnknownTask(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)

	for _, action := range []string{"start", "cancel", "retry"} {
		w := f.do(t, http.MethodPost, "/api/v2/tasks/"+missingTaskID+"/"+action, "")
		assert.Equal(t, http.StatusNotFound, w.Code, action)
		resp := decode[TaskActionResponse](t, w)
		assert.False(t, resp.OK)
		assert.Equal(t, "Task not found", resp.Message)
	}

	for _, path := range []string{"", "/results", "/progress", "/stream"} {
		w := f.do(t, http.MethodGet, "/api/v2/tasks/"+missingTaskID+path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := f.do(t, http.MethodGet, "/api/v2/tasks/not-a-task", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunTaskRespectsCeiling(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 1)
	body := `{"kind":"direct-list","params":{"symbols":["600000"]}}`

	w := f.do(t, http.MethodPost, "/api/v2/tasks/run", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode[TaskCreatedResponse](t, w)
	assert.Equal(t, string(domain.StatusRunning), first.Status)

	w = f.do(t, http.MethodPost, "/api/v2/tasks/run", body)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	second := decode[TaskActionResponse](t, w)
	assert.False(t, second.OK)
	assert.Equal(t, string(domain.StatusPending), second.Status)
	assert.Contains(t, second.Message, "Too many tasks")

	status := decode[SystemStatusResponse](t, f.do(t, http.MethodGet, "/api/v2/system/status", ""))
	assert.Equal(t, 1, status.RunningTasks)
	assert.Equal(t, []string{first.TaskID}, status.RunningTaskIDs)
	assert.Equal(t, 1, status.MaxConcurrent)

	f.runner.releaseAll()
	f.waitRun(t, first.TaskID)

	w = f.do(t, http.MethodPost, "/api/v2/tasks/"+second.TaskID+"/start", "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)
	ids := []string{f.create(t), f.create(t), f.create(t)}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v2/tasks/"+ids[0]+"/start", "").Code)

	w := f.do(t, http.MethodGet, "/api/v2/tasks?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[TaskListResponse](t, w)
	assert.Len(t, page.Tasks, 2)
	assert.Equal(t, Pagination{Total: 3, Limit: 2, Offset: 0, HasMore: true}, page.Pagination)
	assert.Equal(t, 3, page.Stats.Total)
	assert.Equal(t, 1, page.Stats.Running)
	assert.Equal(t, 2, page.Stats.Pending)

	page = decode[TaskListResponse](t, f.do(t, http.MethodGet, "/api/v2/tasks?status=pending&kind=direct-list", ""))
	assert.Len(t, page.Tasks, 2)
	assert.False(t, page.Pagination.HasMore)
	for _, task := range page.Tasks {
		assert.Equal(t, domain.StatusPending, task.Status)
	}

	page = decode[TaskListResponse](t, f.do(t, http.MethodGet, "/api/v2/tasks?status=completed", ""))
	assert.NotNil(t, page.Tasks)
	assert.Empty(t, page.Tasks)

	for _, query := range []string{"status=bogus", "kind=bogus", "limit=many", "offset=x"} {
		w := f.do(t, http.MethodGet, "/api/v2/tasks?"+query, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestGetResults(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)
	id := f.create(t)

	now := time.Now().UTC()
	require.NoError(t, f.results.SaveResults(context.Background(), id, []*domain.Result{
		{TaskID: id, Symbol: "600036", FusedScore: 5.5, Action: "hold", Rank: 2, AnalyzedAt: now},
		{TaskID: id, Symbol: "600000", FusedScore: 9.0, Action: "buy", Rank: 1, Selected: true, AnalyzedAt: now},
		{TaskID: id, Symbol: "000001", FusedScore: 3.1, Action: "sell", Rank: 3, AnalyzedAt: now},
	}))

	resp := decode[ResultsResponse](t, f.do(t, http.MethodGet, "/api/v2/tasks/"+id+"/results", ""))
	assert.Equal(t, id, resp.TaskID)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "600000", resp.Results[0].Symbol)
	assert.Equal(t, "600036", resp.Results[1].Symbol)
	assert.Equal(t, "000001", resp.Results[2].Symbol)

	resp = decode[ResultsResponse](t, f.do(t, http.MethodGet, "/api/v2/tasks/"+id+"/results?selected_only=true", ""))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "600000", resp.Results[0].Symbol)

	resp = decode[ResultsResponse](t, f.do(t, http.MethodGet, "/api/v2/tasks/"+id+"/results?limit=2", ""))
	assert.Equal(t, 2, resp.Count)

	w := f.do(t, http.MethodGet, "/api/v2/tasks/"+id+"/results?selected_only=perhaps", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProgress(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)
	id := f.create(t)

	for i, kind := range []domain.EventKind{domain.EventStart, domain.EventPhaseChange, domain.EventItemProgress} {
		e, err := domain.NewProgressEvent(id, kind, "", "", map[string]int{"step": i})
		require.NoError(t, err)
		require.NoError(t, f.broadcaster.Publish(context.Background(), e))
	}

	resp := decode[ProgressResponse](t, f.do(t, http.MethodGet, "/api/v2/tasks/"+id+"/progress", ""))
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, domain.EventStart, resp.Events[0].Kind)
	assert.Equal(t, domain.EventItemProgress, resp.Events[2].Kind)
	assert.Less(t, resp.Events[0].Seq, resp.Events[2].Seq)

	resp = decode[ProgressResponse](t, f.do(t, http.MethodGet, "/api/v2/tasks/"+id+"/progress?limit=2", ""))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, domain.EventPhaseChange, resp.Events[0].Kind)
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 4)

	w := f.do(t, http.MethodGet, "/api/v2/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	status := decode[SystemStatusResponse](t, f.do(t, http.MethodGet, "/api/v2/system/status", ""))
	assert.Equal(t, 0, status.RunningTasks)
	assert.Empty(t, status.RunningTaskIDs)
	assert.Equal(t, 4, status.MaxConcurrent)
	assert.Equal(t, 0, status.TotalConnections)
	assert.Equal(t, "healthy", status.SystemHealth)
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	Event string
	Data  events.Message
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()

	type result struct {
		frame sseFrame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		var f sseFrame
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				ch <- result{frame: f}
				return
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.Data); err != nil {
					ch <- result{err: err}
					return
				}
			}
		}
	}()

	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream frame")
		return sseFrame{}
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)
	id := f.create(t)

	early, err := domain.NewProgressEvent(id, domain.EventStart, "", "", map[string]string{"message": "begin"})
	require.NoError(t, err)
	require.NoError(t, f.broadcaster.Publish(context.Background(), early))

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v2/stream/"+id+"?client_id=viewer-1", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(resp.Body)

	connected := readFrame(t, reader)
	assert.Equal(t, string(domain.EventConnected), connected.Event)
	assert.Equal(t, id, connected.Data.TaskID)
	assert.Contains(t, string(connected.Data.Data), "viewer-1")

	history := readFrame(t, reader)
	assert.Equal(t, string(domain.EventHistoricalProgress), history.Event)
	assert.Contains(t, string(history.Data.Data), string(domain.EventStart))

	count, err := f.broadcaster.ConnectionCount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	live, err := domain.NewProgressEvent(id, domain.EventChunk, "600000", "analysis", map[string]string{"text": "hello"})
	require.NoError(t, err)
	require.NoError(t, f.broadcaster.Publish(context.Background(), live))

	frame := readFrame(t, reader)
	assert.Equal(t, string(domain.EventChunk), frame.Event)
	assert.Equal(t, "600000", frame.Data.Item)
	assert.True(t, bytes.Contains(frame.Data.Data, []byte("hello")))

	cancel()
	assert.Eventually(t, func() bool {
		n, err := f.broadcaster.TotalConnections(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamGeneratesClientID(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)
	id := f.create(t)

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v2/tasks/"+id+"/stream", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	connected := readFrame(t, bufio.NewReader(resp.Body))
	require.Equal(t, string(domain.EventConnected), connected.Event)

	var data map[string]string
	require.NoError(t, json.Unmarshal(connected.Data.Data, &data))
	assert.Len(t, data["client_id"], 36)
}

func TestStreamEndsWhenBroadcasterStops(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, 3)
	id := f.create(t)

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/api/v2/stream/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readFrame(t, reader)

	f.broadcaster.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(reader)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the broadcaster stopped")
	}
}
