package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the status API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/agents", h.ListAgents)
		r.Get("/stats", h.GetStats)
		r.Get("/results/{id}", h.GetResult)
	})
}
