package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/signal-api/internal/api/shared"
	"github.com/phrazzld/signal-api/internal/platform/logger"
)

// SystemHandler reports process health.
type SystemHandler struct {
	tasks  TaskService
	source StreamSource
	logger *slog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(tasks TaskService, source StreamSource, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{
		tasks:  tasks,
		source: source,
		logger: logger.With(slog.String("component", "system_handler")),
	}
}

// Status handles GET /system/status.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ids := h.tasks.RunningIDs()
	resp := SystemStatusResponse{
		RunningTasks:    len(ids),
		RunningTaskIDs:  ids,
		MaxConcurrent:   h.tasks.MaxConcurrent(),
		TaskConnections: make(map[string]int, len(ids)),
		SystemHealth:    "healthy",
	}

	total, err := h.source.TotalConnections(r.Context())
	if err != nil {
		log.Warn("failed to count stream connections", slog.String("error", err.Error()))
		resp.SystemHealth = "degraded"
	}
	resp.TotalConnections = total

	for _, id := range ids {
		n, err := h.source.ConnectionCount(r.Context(), id)
		if err != nil {
			break
		}
		resp.TaskConnections[id] = n
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithText(w, http.StatusOK, "OK")
}
