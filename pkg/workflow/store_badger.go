package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const (
	runDataKeyPrefix       = "run:data:"
	runStateIndexKeyPrefix = "run:index:state:"
)

// BadgerRunStore persists runs in Badger. Each mutation is one read-modify-
// write transaction, so sibling-branch writes within a run land whole.
type BadgerRunStore struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadgerRunStore opens a dedicated Badger database for run storage.
func OpenBadgerRunStore(path string) (*BadgerRunStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger run store: %w", err)
	}
	store, err := NewBadgerRunStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewBadgerRunStore creates a run store over an existing Badger DB.
func NewBadgerRunStore(db *badger.DB) (*BadgerRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerRunStore{db: db}, nil
}

// Create persists a new run record and its state index entry.
func (s *BadgerRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	key := []byte(runDataKey(run.ID))
	indexKey := []byte(runStateIndexKey(run.State.String(), run.ID))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("run %s already exists", run.ID)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey, nil)
	})
}

// Get loads one run by ID.
func (s *BadgerRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	var run *Run
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		loaded, err := loadRun(txn, runID)
		if err != nil {
			return err
		}
		run = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// AppendResult records one step's output.
func (s *BadgerRunStore) AppendResult(ctx context.Context, runID, action string, value any) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		if run.StepResults == nil {
			run.StepResults = make(map[string]any)
		}
		run.StepResults[action] = value
		return nil
	})
}

// AppendCompletedAction appends to the run's completion order.
func (s *BadgerRunStore) AppendCompletedAction(ctx context.Context, runID, action string) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		run.CompletedActions = append(run.CompletedActions, action)
		return nil
	})
}

// SetState applies a state transition and moves the state index entry.
func (s *BadgerRunStore) SetState(ctx context.Context, runID string, state RunState) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		return run.TransitionTo(state)
	})
}

// SetFailure records the failing action and reason.
func (s *BadgerRunStore) SetFailure(ctx context.Context, runID, action, reason string) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		run.FailedAction = action
		run.FailureReason = reason
		return nil
	})
}

// RecordCompensation marks one compensation outcome.
func (s *BadgerRunStore) RecordCompensation(ctx context.Context, runID, action string, failure *CompensationFailure) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		if failure != nil {
			run.CompensationFailures = append(run.CompensationFailures, *failure)
			return nil
		}
		run.MarkCompensated(action)
		return nil
	})
}

// List returns runs matching the filter, newest first.
func (s *BadgerRunStore) List(ctx context.Context, filter ListFilter) ([]*Run, int, error) {
	all := make([]*Run, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runDataKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			var run Run
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &run)
			}); err != nil {
				return fmt.Errorf("decode run: %w", err)
			}
			if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
				continue
			}
			if filter.State != "" && run.State.String() != filter.State {
				continue
			}
			copied := run
			all = append(all, &copied)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return paginateRuns(all, filter), total, nil
}

// Delete removes a run record and its state index entry.
func (s *BadgerRunStore) Delete(ctx context.Context, runID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		run, err := loadRun(txn, runID)
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(runStateIndexKey(run.State.String(), runID))); err != nil {
			return err
		}
		return txn.Delete([]byte(runDataKey(runID)))
	})
}

// Close closes the database when this store owns it.
func (s *BadgerRunStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerRunStore) mutate(ctx context.Context, runID string, fn func(run *Run) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		run, err := loadRun(txn, runID)
		if err != nil {
			return err
		}
		oldState := run.State.String()
		if err := fn(run); err != nil {
			return err
		}
		run.UpdatedAt = nowUTC()

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		if err := txn.Set([]byte(runDataKey(runID)), data); err != nil {
			return err
		}
		if newState := run.State.String(); newState != oldState {
			if err := txn.Delete([]byte(runStateIndexKey(oldState, runID))); err != nil {
				return err
			}
			return txn.Set([]byte(runStateIndexKey(newState, runID)), nil)
		}
		return nil
	})
}

func loadRun(txn *badger.Txn, runID string) (*Run, error) {
	item, err := txn.Get([]byte(runDataKey(runID)))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	var run Run
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &run)
	}); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func runDataKey(runID string) string {
	return runDataKeyPrefix + runID
}

func runStateIndexKey(state, runID string) string {
	return fmt.Sprintf("%s%s:%s", runStateIndexKeyPrefix, state, runID)
}
