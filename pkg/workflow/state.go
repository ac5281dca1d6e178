package workflow

import "fmt"

// RunState is the lifecycle state of one workflow run.
type RunState int

const (
	// RunStateRunning covers forward execution, from creation onwards.
	RunStateRunning RunState = iota
	// RunStateDone means every step completed and the result is final.
	RunStateDone
	// RunStateFailed is a terminal failure without a compensation cascade
	// (the failing run had nothing to unwind).
	RunStateFailed
	// RunStateReverting means the compensation cascade is in progress.
	RunStateReverting
	// RunStateReverted means the cascade finished; the original failure has
	// been surfaced to the caller.
	RunStateReverted
)

var validRunTransitions = map[RunState]map[RunState]struct{}{
	RunStateRunning: {
		RunStateDone:      {},
		RunStateFailed:    {},
		RunStateReverting: {},
	},
	// A completed nested run may still be reverted when its parent's
	// compensation cascade reaches the step that spawned it.
	RunStateDone: {
		RunStateReverting: {},
	},
	RunStateReverting: {
		RunStateReverted: {},
	},
}

// String returns the wire form of the state.
func (s RunState) String() string {
	switch s {
	case RunStateRunning:
		return "running"
	case RunStateDone:
		return "done"
	case RunStateFailed:
		return "failed"
	case RunStateReverting:
		return "reverting"
	case RunStateReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a run in this state is immutable.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateDone, RunStateFailed, RunStateReverted:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether a state transition is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	if s == next {
		return true
	}
	allowed, ok := validRunTransitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// ValidateRunTransition validates transition semantics.
func ValidateRunTransition(current, next RunState) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid run state transition: %s -> %s", current, next)
	}
	return nil
}

// ParseRunState parses the wire form of a state. Unknown strings map to -1.
func ParseRunState(s string) RunState {
	switch s {
	case "running":
		return RunStateRunning
	case "done":
		return RunStateDone
	case "failed":
		return RunStateFailed
	case "reverting":
		return RunStateReverting
	case "reverted":
		return RunStateReverted
	default:
		return RunState(-1)
	}
}
