package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	redisRunKeyPrefix = "weft:run:"
	redisRunIndexKey  = "weft:runs"
)

// RedisRunStore persists runs in Redis as JSON values with a set index for
// listing. Mutations are read-modify-write without WATCH: the engine's
// single-writer-per-run rule makes per-run optimistic locking unnecessary,
// and sibling-branch writes are serialized by the orchestrator's own lock.
type RedisRunStore struct {
	client redis.Cmdable
}

// NewRedisRunStore creates a Redis-backed run store.
func NewRedisRunStore(client redis.Cmdable) (*RedisRunStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisRunStore{client: client}, nil
}

// Create persists a new run record.
func (s *RedisRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisRunKey(run.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	return s.client.SAdd(ctx, redisRunIndexKey, run.ID).Err()
}

// Get loads one run by ID.
func (s *RedisRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	data, err := s.client.Get(ctx, redisRunKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// AppendResult records one step's output.
func (s *RedisRunStore) AppendResult(ctx context.Context, runID, action string, value any) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		if run.StepResults == nil {
			run.StepResults = make(map[string]any)
		}
		run.StepResults[action] = value
		return nil
	})
}

// AppendCompletedAction appends to the run's completion order.
func (s *RedisRunStore) AppendCompletedAction(ctx context.Context, runID, action string) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		run.CompletedActions = append(run.CompletedActions, action)
		return nil
	})
}

// SetState applies a state transition.
func (s *RedisRunStore) SetState(ctx context.Context, runID string, state RunState) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		return run.TransitionTo(state)
	})
}

// SetFailure records the failing action and reason.
func (s *RedisRunStore) SetFailure(ctx context.Context, runID, action, reason string) error {
	return s.mutate(ctx, runID, func(run *Run) error {
		run.FailedAction = action
		run.FailureReason = reason
		return nil
	})
}

// RecordCompensation marks one compensation outcome.
func (s *RedisRunStore) RecordCompensation(ctx context.Context, runID, action string, failure *CompensationFailure) error {
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
func (s *RedisRunStore) List(ctx context.Context, filter ListFilter) ([]*Run, int, error) {
	ids, err := s.client.SMembers(ctx, redisRunIndexKey).Result()
	if err != nil {
		return nil, 0, err
	}

	all := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				continue
			}
			return nil, 0, err
		}
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.State != "" && run.State.String() != filter.State {
			continue
		}
		all = append(all, run)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return paginateRuns(all, filter), total, nil
}

// Delete removes a run record and its index entry.
func (s *RedisRunStore) Delete(ctx context.Context, runID string) error {
	deleted, err := s.client.Del(ctx, redisRunKey(runID)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrRunNotFound
	}
	return s.client.SRem(ctx, redisRunIndexKey, runID).Err()
}

// Close is a no-op; the caller owns the shared Redis client.
func (s *RedisRunStore) Close() error { return nil }

func (s *RedisRunStore) mutate(ctx context.Context, runID string, fn func(run *Run) error) error {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	if err := fn(run); err != nil {
		return err
	}
	run.UpdatedAt = nowUTC()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.client.Set(ctx, redisRunKey(runID), data, 0).Err()
}

func redisRunKey(runID string) string {
	return redisRunKeyPrefix + runID
}
