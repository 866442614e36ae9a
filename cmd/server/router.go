package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/signal-api/internal/api"
	apiMiddleware "github.com/phrazzld/signal-api/internal/api/middleware"
	"github.com/phrazzld/signal-api/internal/events"
	"github.com/phrazzld/signal-api/internal/task"
)

// newRouter builds the chi router serving the v2 API.
func newRouter(logger *slog.Logger, manager *task.Manager, broadcaster *events.Broadcaster) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(logger))

	r.Route("/api/v2", func(r chi.Router) {
		api.RegisterRoutes(r, api.Handlers{
			Tasks:  api.NewTaskHandler(manager, logger),
			Stream: api.NewStreamHandler(manager, broadcaster, logger),
			System: api.NewSystemHandler(manager, broadcaster, logger),
		})
	})

	r.Get("/health", api.Health)

	return r
}
