// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/weftworks/weft/config"
	"github.com/weftworks/weft/pkg/api/handlers"
	"github.com/weftworks/weft/pkg/api/middleware"
	"github.com/weftworks/weft/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Runs handles workflow run inspection endpoints.
	Runs *handlers.RunsHandler

	// Health handles health check endpoints.
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Runs != nil {
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", handlers.Runs.ListRuns)
				r.Get("/{id}", handlers.Runs.GetRun)
				r.Get("/{id}/events", handlers.Runs.GetRunEvents)
			})
			r.Get("/workflows", handlers.Runs.ListWorkflows)
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}
}
