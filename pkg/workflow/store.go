package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ListFilter controls run list queries.
type ListFilter struct {
	WorkflowID string
	State      string
	Limit      int
	Offset     int
}

// RunStore is the persistence boundary for execution contexts. Every mutation
// must be durable before it returns so the orchestrator's write-ahead
// discipline holds: a crash never loses a completed step's record.
//
// A single run is mutated by exactly one orchestrator at a time; concurrent
// mutations happen only across distinct run IDs, except for sibling-branch
// step completions within one run, which must each be individually atomic.
type RunStore interface {
	// Create persists a new run record; the run ID must be unused.
	Create(ctx context.Context, run *Run) error
	// Get loads one run, or ErrRunNotFound.
	Get(ctx context.Context, runID string) (*Run, error)
	// AppendResult durably records one step's output.
	AppendResult(ctx context.Context, runID, action string, value any) error
	// AppendCompletedAction durably appends to the run's completion order.
	AppendCompletedAction(ctx context.Context, runID, action string) error
	// SetState applies a state transition.
	SetState(ctx context.Context, runID string, state RunState) error
	// SetFailure records the failing action and reason.
	SetFailure(ctx context.Context, runID, action, reason string) error
	// RecordCompensation marks one compensation outcome; failure is nil on
	// success.
	RecordCompensation(ctx context.Context, runID, action string, failure *CompensationFailure) error
	// List returns runs matching the filter plus the unpaginated total.
	List(ctx context.Context, filter ListFilter) ([]*Run, int, error)
	// Delete removes a run record.
	Delete(ctx context.Context, runID string) error
	// Close releases any resources held by the store.
	Close() error
}

// MemoryRunStore is an in-memory RunStore used by tests and as the default
// backend. All mutations are atomic under one lock.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRunStore creates an in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

// Create persists a new run record.
func (s *MemoryRunStore) Create(_ context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// Get loads one run by ID.
func (s *MemoryRunStore) Get(_ context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// AppendResult records one step's output.
func (s *MemoryRunStore) AppendResult(_ context.Context, runID, action string, value any) error {
	return s.mutate(runID, func(run *Run) error {
		if run.StepResults == nil {
			run.StepResults = make(map[string]any)
		}
		run.StepResults[action] = value
		return nil
	})
}

// AppendCompletedAction appends to the run's completion order.
func (s *MemoryRunStore) AppendCompletedAction(_ context.Context, runID, action string) error {
	return s.mutate(runID, func(run *Run) error {
		run.CompletedActions = append(run.CompletedActions, action)
		return nil
	})
}

// SetState applies a state transition.
func (s *MemoryRunStore) SetState(_ context.Context, runID string, state RunState) error {
	return s.mutate(runID, func(run *Run) error {
		return run.TransitionTo(state)
	})
}

// SetFailure records the failing action and reason.
func (s *MemoryRunStore) SetFailure(_ context.Context, runID, action, reason string) error {
	return s.mutate(runID, func(run *Run) error {
		run.FailedAction = action
		run.FailureReason = reason
		return nil
	})
}

// RecordCompensation marks one compensation outcome.
func (s *MemoryRunStore) RecordCompensation(_ context.Context, runID, action string, failure *CompensationFailure) error {
	return s.mutate(runID, func(run *Run) error {
		if failure != nil {
			run.CompensationFailures = append(run.CompensationFailures, *failure)
			return nil
		}
		run.MarkCompensated(action)
		return nil
	})
}

// List returns runs matching the filter, newest first.
func (s *MemoryRunStore) List(_ context.Context, filter ListFilter) ([]*Run, int, error) {
	s.mu.RLock()
	all := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.State != "" && run.State.String() != filter.State {
			continue
		}
		all = append(all, cloneRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return paginateRuns(all, filter), total, nil
}

// Delete removes a run record.
func (s *MemoryRunStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return ErrRunNotFound
	}
	delete(s.runs, runID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryRunStore) Close() error { return nil }

func (s *MemoryRunStore) mutate(runID string, fn func(run *Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if err := fn(run); err != nil {
		return err
	}
	run.UpdatedAt = nowUTC()
	return nil
}

func paginateRuns(all []*Run, filter ListFilter) []*Run {
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := len(all)
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	return all[offset:end]
}
