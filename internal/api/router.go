package api

import (
	"net/http"

	"github.com/campaignforge/dispatch/internal/engine"
	"github.com/campaignforge/dispatch/internal/store"
	"github.com/campaignforge/dispatch/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(jobs store.JobStore, ctrl *engine.Controller, campaigns *engine.CampaignEngine, mgr *transport.Manager) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	queueHandler := NewQueueHandler(ctrl, jobs)
	campaignHandler := NewCampaignHandler(campaigns)

	r.Get("/health", HealthHandler(mgr, ctrl))

	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", queueHandler.Stats)
		r.Get("/jobs", queueHandler.ListJobs)
		r.Get("/jobs/{id}", queueHandler.GetJob)
		r.Get("/config", queueHandler.GetConfig)
		r.Put("/config", queueHandler.UpdateConfig)
		r.Post("/pause", queueHandler.Pause)
		r.Post("/resume", queueHandler.Resume)
		r.Post("/retry-failed", queueHandler.RetryFailed)
		r.Post("/campaigns", campaignHandler.Enqueue)
	})

	return r
}
