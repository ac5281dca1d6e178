package workflow

import (
	"errors"
	"testing"
)

func TestNewRunDefaults(t *testing.T) {
	run := NewRun("run-1", "wf", map[string]any{"id": "cart-1"})
	if run.State != RunStateRunning {
		t.Fatalf("new run state = %s, want running", run.State)
	}
	if run.CreatedAt.IsZero() || run.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
	if run.CompletedAt != nil {
		t.Fatal("fresh run must not carry a completion time")
	}
}

func TestRunTransitionStampsCompletion(t *testing.T) {
	run := NewRun("run-1", "wf", nil)
	if err := run.TransitionTo(RunStateDone); err != nil {
		t.Fatalf("TransitionTo(done) error = %v", err)
	}
	if run.CompletedAt == nil {
		t.Fatal("terminal transition must stamp CompletedAt")
	}
	if err := run.TransitionTo(RunStateRunning); err == nil {
		t.Fatal("expected error leaving terminal state done for running")
	}
}

func TestRunMarkStepCompletedRespectsSaveFlag(t *testing.T) {
	run := NewRun("run-1", "wf", nil)
	run.MarkStepCompleted("a", "result-a", true)
	run.MarkStepCompleted("b", "result-b", false)

	if len(run.CompletedActions) != 2 {
		t.Fatalf("completion order = %v", run.CompletedActions)
	}
	if run.StepResults["a"] != "result-a" {
		t.Fatalf("saved result missing: %#v", run.StepResults)
	}
	if _, ok := run.StepResults["b"]; ok {
		t.Fatal("unsaved step leaked into step results")
	}
}

func TestRunFailureBookkeeping(t *testing.T) {
	run := NewRun("run-1", "wf", nil)
	run.SetFailure("charge", errors.New("card declined"))
	if run.FailedAction != "charge" || run.FailureReason != "card declined" {
		t.Fatalf("unexpected failure record: %q %q", run.FailedAction, run.FailureReason)
	}

	run.AddCompensationFailure("reserve", errors.New("gateway timeout"))
	run.AddCompensationFailure("noop", nil)
	if len(run.CompensationFailures) != 1 {
		t.Fatalf("expected one compensation failure, got %#v", run.CompensationFailures)
	}
	if run.CompensationFailures[0].Action != "reserve" {
		t.Fatalf("unexpected compensation failure: %#v", run.CompensationFailures[0])
	}
}

func TestCloneRunIsDeep(t *testing.T) {
	run := NewRun("run-1", "wf", nil)
	run.MarkStepCompleted("a", "one", true)
	run.AddCompensationFailure("a", errors.New("x"))

	clone := cloneRun(run)
	clone.StepResults["a"] = "mutated"
	clone.CompletedActions[0] = "mutated"
	clone.CompensationFailures[0].Action = "mutated"

	if run.StepResults["a"] != "one" {
		t.Fatal("clone shares step results map")
	}
	if run.CompletedActions[0] != "a" {
		t.Fatal("clone shares completion slice")
	}
	if run.CompensationFailures[0].Action != "a" {
		t.Fatal("clone shares compensation failures")
	}
}
