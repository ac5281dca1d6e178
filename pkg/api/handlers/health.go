// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/weftworks/weft/pkg/api/response"
	"github.com/weftworks/weft/pkg/workflow"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	registry *workflow.Registry
	version  string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(registry *workflow.Registry, version string) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		version:  version,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The service is ready
// once the run store answers queries.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	store := h.registry.Orchestrator().Store()
	if _, _, err := store.List(r.Context(), workflow.ListFilter{Limit: 1}); err != nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"version":   h.version,
		"workflows": h.registry.IDs(),
	})
}
