// Package models defines API request and response shapes.
package models

import (
	"time"

	"github.com/weftworks/weft/pkg/workflow"
)

// RunSummary is the list representation of a workflow run.
type RunSummary struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	State        string     `json:"state"`
	FailedAction string     `json:"failed_action,omitempty"`
	ParentRunID  string     `json:"parent_run_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RunDetail is the full representation of a workflow run.
type RunDetail struct {
	RunSummary

	Input                any                            `json:"input,omitempty"`
	StepResults          map[string]any                 `json:"step_results,omitempty"`
	CompletedActions     []string                       `json:"completed_actions"`
	Compensated          []string                       `json:"compensated,omitempty"`
	FailureReason        string                         `json:"failure_reason,omitempty"`
	CompensationFailures []workflow.CompensationFailure `json:"compensation_failures,omitempty"`
}

// ListRunsResponse is the paginated run list response.
type ListRunsResponse struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// RunEvent is the API representation of one event log entry.
type RunEvent struct {
	Sequence  uint64    `json:"sequence"`
	Action    string    `json:"action,omitempty"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListEventsResponse is the run event list response.
type ListEventsResponse struct {
	RunID  string     `json:"run_id"`
	Events []RunEvent `json:"events"`
}

// NewRunSummary converts a run to its list representation.
func NewRunSummary(run *workflow.Run) RunSummary {
	return RunSummary{
		ID:           run.ID,
		WorkflowID:   run.WorkflowID,
		State:        run.State.String(),
		FailedAction: run.FailedAction,
		ParentRunID:  run.ParentRunID,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
		CompletedAt:  run.CompletedAt,
	}
}

// NewRunDetail converts a run to its full representation.
func NewRunDetail(run *workflow.Run) RunDetail {
	return RunDetail{
		RunSummary:           NewRunSummary(run),
		Input:                run.Input,
		StepResults:          run.StepResults,
		CompletedActions:     run.CompletedActions,
		Compensated:          run.Compensated,
		FailureReason:        run.FailureReason,
		CompensationFailures: run.CompensationFailures,
	}
}

// NewRunEvent converts an event log entry to its API representation.
func NewRunEvent(event workflow.Event) RunEvent {
	return RunEvent{
		Sequence:  event.Sequence,
		Action:    event.Action,
		Type:      string(event.Type),
		Detail:    event.Detail,
		Timestamp: event.Timestamp,
	}
}
