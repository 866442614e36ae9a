package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/signal-api/internal/api/shared"
	"github.com/phrazzld/signal-api/internal/events"
	"github.com/phrazzld/signal-api/internal/platform/logger"
)

// StreamSource hands out live progress subscriptions.
type StreamSource interface {
	Subscribe(ctx context.Context, taskID, clientID string) (*events.Subscription, error)
	Unsubscribe(sub *events.Subscription)
	ConnectionCount(ctx context.Context, taskID string) (int, error)
	TotalConnections(ctx context.Context) (int, error)
}

// StreamHandler serves task progress as server-sent events.
type StreamHandler struct {
	tasks  TaskService
	source StreamSource
	logger *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(tasks TaskService, source StreamSource, logger *slog.Logger) *StreamHandler {
	if tasks == nil || source == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("tasks and source cannot be nil for StreamHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		tasks:  tasks,
		source: source,
		logger: logger.With(slog.String("component", "stream_handler")),
	}
}

// Stream handles GET /stream/{id}?client_id=. Any existing task can be
// watched whatever its status. The connection stays open until the client
// leaves or the subscription is removed.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := handlePathTaskID(w, r, log)
	if !ok {
		return
	}

	if _, err := h.tasks.Get(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to open stream")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Streaming is not supported", errors.New("response writer does not implement http.Flusher"))
		return
	}

	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}

	sub, err := h.source.Subscribe(r.Context(), id, clientID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to open stream")
		return
	}
	defer h.source.Unsubscribe(sub)

	log = log.With(slog.String("task_id", id), slog.String("client_id", clientID))
	log.Info("stream opened")

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(msg events.Message) bool {
		if err := events.WriteSSE(w, msg); err != nil {
			log.Info("stream write failed", slog.String("error", err.Error()))
			return false
		}
		flusher.Flush()
		sub.MarkSent()
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			log.Info("stream closed by client")
			return

		case <-sub.Done():
			// Flush whatever was queued before the subscription was removed.
			for {
				select {
				case msg := <-sub.Messages():
					if !send(msg) {
						return
					}
				default:
					log.Info("stream closed by server")
					return
				}
			}

		case msg := <-sub.Messages():
			if !send(msg) {
				return
			}
		}
	}
}
