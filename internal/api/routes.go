package api

import (
	"github.com/go-chi/chi/v5"
)

// Handlers groups the handlers mounted by RegisterRoutes.
type Handlers struct {
	Tasks  *TaskHandler
	Stream *StreamHandler
	System *SystemHandler
}

// RegisterRoutes mounts the task, stream and system endpoints on r. Callers
// choose the prefix, normally /api/v2.
func RegisterRoutes(r chi.Router, h Handlers) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.Tasks.CreateTask)
		r.Get("/", h.Tasks.ListTasks)
		r.Post("/run", h.Tasks.RunTask)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Tasks.GetTask)
			r.Post("/start", h.Tasks.StartTask)
			r.Post("/cancel", h.Tasks.CancelTask)
			r.Post("/retry", h.Tasks.RetryTask)
			r.Get("/results", h.Tasks.GetResults)
			r.Get("/progress", h.Tasks.GetProgress)
			r.Get("/stream", h.Stream.Stream)
		})
	})

	r.Get("/stream/{id}", h.Stream.Stream)
	r.Get("/system/status", h.System.Status)
	r.Get("/health", Health)
}
