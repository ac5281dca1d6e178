package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weftworks/weft/pkg/api/middleware"
	"github.com/weftworks/weft/pkg/api/models"
	"github.com/weftworks/weft/pkg/api/response"
	"github.com/weftworks/weft/pkg/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// RunsHandler serves the workflow run inspection endpoints.
type RunsHandler struct {
	registry *workflow.Registry
	events   workflow.EventLog
}

// NewRunsHandler creates a runs handler. The event log may be nil, in which
// case the events endpoint serves empty lists.
func NewRunsHandler(registry *workflow.Registry, events workflow.EventLog) *RunsHandler {
	return &RunsHandler{
		registry: registry,
		events:   events,
	}
}

// ListRuns handles GET /api/v1/runs.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	filter := workflow.ListFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		State:      r.URL.Query().Get("state"),
		Limit:      defaultListLimit,
	}

	if filter.State != "" && workflow.ParseRunState(filter.State) == workflow.RunState(-1) {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid state filter: "+filter.State, requestID)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
				"limit must be a positive integer", requestID)
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
				"offset must be a non-negative integer", requestID)
			return
		}
		filter.Offset = offset
	}

	runs, total, err := h.registry.Orchestrator().Store().List(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer,
			err.Error(), requestID)
		return
	}

	resp := models.ListRunsResponse{
		Runs:   make([]models.RunSummary, 0, len(runs)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, models.NewRunSummary(run))
	}
	response.JSON(w, http.StatusOK, resp)
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	runID := chi.URLParam(r, "id")

	run, err := h.registry.Orchestrator().GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound,
				"run not found: "+runID, requestID)
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer,
			err.Error(), requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.NewRunDetail(run))
}

// GetRunEvents handles GET /api/v1/runs/{id}/events.
func (h *RunsHandler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	runID := chi.URLParam(r, "id")

	if _, err := h.registry.Orchestrator().GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound,
				"run not found: "+runID, requestID)
			return
		}
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer,
			err.Error(), requestID)
		return
	}

	resp := models.ListEventsResponse{
		RunID:  runID,
		Events: make([]models.RunEvent, 0),
	}
	if h.events != nil {
		events, err := h.events.List(r.Context(), runID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer,
				err.Error(), requestID)
			return
		}
		for _, event := range events {
			resp.Events = append(resp.Events, models.NewRunEvent(event))
		}
	}

	response.JSON(w, http.StatusOK, resp)
}

// ListWorkflows handles GET /api/v1/workflows.
func (h *RunsHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"workflows": h.registry.IDs(),
	})
}
