package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRunNotFound is returned when a workflow run cannot be located.
var ErrRunNotFound = errors.New("workflow run not found")

// ErrWorkflowNotFound is returned when a workflow id is not registered.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ConfigurationError reports a defective workflow definition: a malformed
// graph, a duplicate action or workflow id, or a missing handler. It is raised
// at registration time and never reaches a caller during a run.
type ConfigurationError struct {
	Workflow string
	Detail   string
}

func (e *ConfigurationError) Error() string {
	if e.Workflow == "" {
		return fmt.Sprintf("workflow configuration: %s", e.Detail)
	}
	return fmt.Sprintf("workflow %q configuration: %s", e.Workflow, e.Detail)
}

func configErrf(workflowID, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Workflow: workflowID, Detail: fmt.Sprintf(format, args...)}
}

// StepExecutionError is returned when a step's invoke handler failed during a
// run. It is surfaced to the caller after the compensation cascade has
// completed, carrying any compensations that additionally failed.
type StepExecutionError struct {
	WorkflowID string
	RunID      string
	Action     string
	Cause      error

	// CompensationFailures lists compensations that themselves failed during
	// the reverse walk, leaving the run partially unwound.
	CompensationFailures []CompensationFailure
}

func (e *StepExecutionError) Error() string {
	msg := fmt.Sprintf("workflow %q run %s: step %q failed: %v", e.WorkflowID, e.RunID, e.Action, e.Cause)
	if len(e.CompensationFailures) > 0 {
		parts := make([]string, 0, len(e.CompensationFailures))
		for _, f := range e.CompensationFailures {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Action, f.Reason))
		}
		msg += fmt.Sprintf(" (compensation failures: %s)", strings.Join(parts, "; "))
	}
	return msg
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

// CompensationFailure records one compensate call that failed during rollback.
type CompensationFailure struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// CompensationError wraps a single failed compensation attempt.
type CompensationError struct {
	Action string
	Cause  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %q failed: %v", e.Action, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Cause }
