package workflow

import (
	"fmt"
	"time"
)

// Run is the durable execution context of one workflow run. It is mutated
// exclusively by the orchestrator and becomes immutable once its state is
// terminal.
type Run struct {
	ID         string   `json:"id"`
	WorkflowID string   `json:"workflow_id"`
	State      RunState `json:"state"`

	// Input is the prepared payload the run started with. Immutable for the
	// run's lifetime.
	Input any `json:"input,omitempty"`

	// StepResults maps action names to persisted outputs. Steps flagged with
	// saveResponse=false never appear here.
	StepResults map[string]any `json:"step_results,omitempty"`

	// CompletedActions lists successfully invoked actions in execution order.
	// The compensation cascade walks this slice in reverse.
	CompletedActions []string `json:"completed_actions"`

	// Compensated lists actions whose compensation completed.
	Compensated []string `json:"compensated,omitempty"`

	FailedAction  string `json:"failed_action,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	// CompensationFailures records compensations that failed during the
	// reverse walk; a non-empty list means the run is partially unwound and
	// needs operator attention.
	CompensationFailures []CompensationFailure `json:"compensation_failures,omitempty"`

	// ParentRunID links a nested run to the run that spawned it. Nested run
	// IDs are derived from the parent run ID and the spawning action, so a
	// parent's cascade can locate its children without extra bookkeeping.
	ParentRunID string `json:"parent_run_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRun creates the execution context for a fresh run. Runs start in the
// running state.
func NewRun(id, workflowID string, input any) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:               id,
		WorkflowID:       workflowID,
		State:            RunStateRunning,
		Input:            input,
		StepResults:      make(map[string]any),
		CompletedActions: make([]string, 0),
		Compensated:      make([]string, 0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// TransitionTo applies a state transition, stamping completion time on
// terminal states.
func (r *Run) TransitionTo(next RunState) error {
	if r == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if err := ValidateRunTransition(r.State, next); err != nil {
		return err
	}
	now := time.Now().UTC()
	if next.IsTerminal() {
		done := now
		r.CompletedAt = &done
	}
	r.State = next
	r.UpdatedAt = now
	return nil
}

// MarkStepCompleted appends the action to the completion order and, when save
// is true, records its output.
func (r *Run) MarkStepCompleted(action string, result any, save bool) {
	if r == nil {
		return
	}
	r.CompletedActions = append(r.CompletedActions, action)
	if save {
		if r.StepResults == nil {
			r.StepResults = make(map[string]any)
		}
		r.StepResults[action] = result
	}
	r.UpdatedAt = time.Now().UTC()
}

// MarkCompensated records a successfully compensated action.
func (r *Run) MarkCompensated(action string) {
	if r == nil {
		return
	}
	r.Compensated = append(r.Compensated, action)
	r.UpdatedAt = time.Now().UTC()
}

// SetFailure records the failing action and its cause.
func (r *Run) SetFailure(action string, err error) {
	if r == nil {
		return
	}
	r.FailedAction = action
	if err != nil {
		r.FailureReason = err.Error()
	}
	r.UpdatedAt = time.Now().UTC()
}

// AddCompensationFailure records one failed compensation attempt.
func (r *Run) AddCompensationFailure(action string, err error) {
	if r == nil || err == nil {
		return
	}
	r.CompensationFailures = append(r.CompensationFailures, CompensationFailure{
		Action: action,
		Reason: err.Error(),
	})
	r.UpdatedAt = time.Now().UTC()
}

func cloneRun(r *Run) *Run {
	if r == nil {
		return nil
	}
	clone := &Run{
		ID:               r.ID,
		WorkflowID:       r.WorkflowID,
		State:            r.State,
		Input:            r.Input,
		StepResults:      copyResultMap(r.StepResults),
		CompletedActions: append([]string(nil), r.CompletedActions...),
		Compensated:      append([]string(nil), r.Compensated...),
		FailedAction:     r.FailedAction,
		FailureReason:    r.FailureReason,
		ParentRunID:      r.ParentRunID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if len(r.CompensationFailures) > 0 {
		clone.CompensationFailures = append([]CompensationFailure(nil), r.CompensationFailures...)
	}
	if r.CompletedAt != nil {
		done := *r.CompletedAt
		clone.CompletedAt = &done
	}
	return clone
}

func nowUTC() time.Time { return time.Now().UTC() }

func copyResultMap(source map[string]any) map[string]any {
	copied := make(map[string]any, len(source))
	for k, v := range source {
		copied[k] = v
	}
	return copied
}
