package api

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/platform/logger"
)

// taskIDLength is the length of a task ID in hex characters.
const taskIDLength = 32

// getPathTaskID extracts and checks the task ID path parameter.
func getPathTaskID(r *http.Request) (string, error) {
	id := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "id")))
	if id == "" {
		return "", fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	if len(id) != taskIDLength {
		return "", fmt.Errorf("%w: task id has invalid format", domain.ErrValidation)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return "", fmt.Errorf("%w: task id has invalid format", domain.ErrValidation)
	}
	return id, nil
}

// handlePathTaskID extracts the task ID and writes an error response when it
// is missing or malformed.
func handlePathTaskID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (string, bool) {
	if log == nil {
		log = logger.FromContextOrDefault(r.Context(), slog.Default())
	}

	id, err := getPathTaskID(r)
	if err != nil {
		log.Warn("invalid task id", slog.String("value", chi.URLParam(r, "id")))
		HandleAPIError(w, r, err, "")
		return "", false
	}
	return id, true
}

// streamURL is the path a client follows to watch a task.
func streamURL(taskID string) string {
	return fmt.Sprintf("/api/v2/stream/%s", taskID)
}
