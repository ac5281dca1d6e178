package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RecoveryLogger is the logging subset used by recovery and cleanup services.
type RecoveryLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopRecoveryLogger struct{}

func (n *nopRecoveryLogger) Info(string, ...any) {}
func (n *nopRecoveryLogger) Warn(string, ...any) {}

// RecoveryManager resumes runs that were interrupted by a process crash.
// It relies on the store's write-ahead discipline: every completed step was
// durably recorded before its children started, so resuming a run re-executes
// at most the steps that were in flight at crash time.
type RecoveryManager struct {
	registry *Registry
	metrics  MetricsRecorder
	logger   RecoveryLogger
}

// NewRecoveryManager creates a recovery manager bound to a registry.
func NewRecoveryManager(registry *Registry, metrics MetricsRecorder, logger RecoveryLogger) (*RecoveryManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if metrics == nil {
		metrics = &nopMetricsRecorder{}
	}
	if logger == nil {
		logger = &nopRecoveryLogger{}
	}
	return &RecoveryManager{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Recover scans the run store for non-terminal runs and resumes each one.
// Runs whose workflow is no longer registered are skipped with a warning.
// Nested runs are skipped too: their parent's resumption re-enters them
// through the spawning step.
func (m *RecoveryManager) Recover(ctx context.Context) (int, error) {
	store := m.registry.Orchestrator().Store()

	candidates := make([]*Run, 0)
	for _, state := range []RunState{RunStateRunning, RunStateReverting} {
		runs, _, err := store.List(ctx, ListFilter{State: state.String()})
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, runs...)
	}

	m.logger.Info("run recovery scan started", "candidates", len(candidates))

	recovered := 0
	var firstErr error
	for _, run := range candidates {
		if run.ParentRunID != "" {
			continue
		}

		wf, err := m.registry.Get(run.WorkflowID)
		if err != nil {
			m.logger.Warn("skipping recovery, workflow not registered",
				"run_id", run.ID,
				"workflow_id", run.WorkflowID,
			)
			continue
		}

		// A resume that lands in reverted is still a successful recovery;
		// only infrastructure errors count as failures here.
		_, err = m.registry.Orchestrator().Resume(ctx, wf, run.ID)
		var stepErr *StepExecutionError
		if err != nil && !errors.As(err, &stepErr) {
			m.metrics.RecordRecovery("failed")
			m.logger.Warn("run recovery failed", "run_id", run.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		m.metrics.RecordRecovery("recovered")
		recovered++
		m.logger.Info("run recovered", "run_id", run.ID, "workflow_id", run.WorkflowID)
	}

	m.logger.Info("run recovery scan completed", "recovered", recovered)
	return recovered, firstErr
}

// CleanupManager prunes terminal runs and their events once they pass the
// retention window.
type CleanupManager struct {
	store  RunStore
	wal    EventLog
	logger RecoveryLogger

	mu      sync.Mutex
	running bool
}

// NewCleanupManager creates a cleanup manager. The event log may be nil.
func NewCleanupManager(store RunStore, wal EventLog, logger RecoveryLogger) *CleanupManager {
	if logger == nil {
		logger = &nopRecoveryLogger{}
	}
	return &CleanupManager{
		store:  store,
		wal:    wal,
		logger: logger,
	}
}

// Start runs periodic cleanup until the context is cancelled.
func (m *CleanupManager) Start(ctx context.Context, interval, retention time.Duration) error {
	if m.store == nil {
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("cleanup interval must be > 0")
	}
	if retention <= 0 {
		return fmt.Errorf("retention must be > 0")
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("cleanup manager already running")
	}
	m.running = true
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.running = false
				m.mu.Unlock()
				return
			case <-ticker.C:
				deleted, err := m.RunOnce(ctx, retention)
				if err != nil {
					m.logger.Warn("run cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					m.logger.Info("run cleanup completed", "deleted_runs", deleted)
				}
			}
		}
	}()

	return nil
}

// RunOnce performs one cleanup pass, deleting terminal runs whose completion
// time is older than the retention window.
func (m *CleanupManager) RunOnce(ctx context.Context, retention time.Duration) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be > 0")
	}

	cutoff := time.Now().UTC().Add(-retention)
	deleted := 0

	for _, state := range []RunState{RunStateDone, RunStateFailed, RunStateReverted} {
		runs, _, err := m.store.List(ctx, ListFilter{State: state.String()})
		if err != nil {
			return deleted, err
		}
		for _, run := range runs {
			select {
			case <-ctx.Done():
				return deleted, ctx.Err()
			default:
			}

			completedAt := run.UpdatedAt
			if run.CompletedAt != nil {
				completedAt = *run.CompletedAt
			}
			if completedAt.After(cutoff) {
				continue
			}

			if m.wal != nil {
				if err := m.wal.DeleteByRunID(ctx, run.ID); err != nil {
					m.logger.Warn("failed to delete run events", "run_id", run.ID, "error", err)
					continue
				}
			}
			if err := m.store.Delete(ctx, run.ID); err != nil {
				m.logger.Warn("failed to delete run", "run_id", run.ID, "error", err)
				continue
			}
			deleted++
		}
	}

	return deleted, nil
}
