package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weftworks/weft/pkg/logger"
)

// OrchestratorOption customizes Orchestrator initialization.
type OrchestratorOption func(o *Orchestrator)

// WithRunStore wires durable run storage into the orchestrator.
func WithRunStore(store RunStore) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithEventLog wires write-ahead event logging into the orchestrator.
func WithEventLog(wal EventLog) OrchestratorOption {
	return func(o *Orchestrator) {
		o.wal = wal
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(log logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithMaxConcurrentRuns caps concurrently executing runs.
func WithMaxConcurrentRuns(max int) OrchestratorOption {
	return func(o *Orchestrator) {
		if max > 0 {
			o.maxConcurrent = max
			o.sema = make(chan struct{}, max)
		}
	}
}

// Orchestrator executes workflow runs to completion or to a fully-compensated
// terminal failure. One orchestrator instance mutates a given run at a time;
// within a run, sibling branches execute concurrently but their persistence
// writes are serialized.
type Orchestrator struct {
	store         RunStore
	wal           EventLog
	logger        logger.Logger
	metrics       MetricsRecorder
	maxConcurrent int
	sema          chan struct{}
}

// NewOrchestrator creates an orchestrator. Without options it uses an
// in-memory run store, the global logger, and no event log.
func NewOrchestrator(options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:         NewMemoryRunStore(),
		logger:        logger.Global(),
		metrics:       &nopMetricsRecorder{},
		maxConcurrent: 100,
		sema:          make(chan struct{}, 100),
	}
	for _, option := range options {
		if option != nil {
			option(o)
		}
	}
	return o
}

// Store exposes the orchestrator's run store for read-side consumers.
func (o *Orchestrator) Store() RunStore { return o.store }

// GetRun loads one run's execution context.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*Run, error) {
	return o.store.Get(ctx, runID)
}

// Execute runs a workflow from start to a terminal state under a fresh run ID.
func (o *Orchestrator) Execute(ctx context.Context, wf *Workflow, input any) (*Run, error) {
	return o.ExecuteWithID(ctx, uuid.NewString(), wf, input)
}

// ExecuteWithID runs a workflow using a caller-provided run ID. The input is
// passed through the workflow's data preparation function before the run
// record is created.
func (o *Orchestrator) ExecuteWithID(ctx context.Context, runID string, wf *Workflow, input any) (*Run, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow cannot be nil")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}

	select {
	case o.sema <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-o.sema }()

	prepared := input
	if wf.DataPreparation != nil {
		var err error
		prepared, err = wf.DataPreparation(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("workflow %q data preparation: %w", wf.ID, err)
		}
	}

	run := NewRun(runID, wf.ID, prepared)
	if err := o.store.Create(ctx, run); err != nil {
		return nil, err
	}
	return o.drive(ctx, wf, run)
}

// ExecuteNested runs a workflow as a child of another run. If the nested run
// already exists (the parent crashed after spawning it) the run is resumed
// instead, so re-invoking the spawning step stays safe.
func (o *Orchestrator) ExecuteNested(ctx context.Context, wf *Workflow, runID, parentRunID string, input any) (*Run, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow cannot be nil")
	}
	existing, err := o.store.Get(ctx, runID)
	switch {
	case err == nil:
		if existing.State == RunStateRunning {
			return o.drive(ctx, wf, existing)
		}
		if existing.State == RunStateDone {
			return existing, nil
		}
		return existing, &StepExecutionError{
			WorkflowID:           wf.ID,
			RunID:                existing.ID,
			Action:               existing.FailedAction,
			Cause:                errors.New(existing.FailureReason),
			CompensationFailures: existing.CompensationFailures,
		}
	case errors.Is(err, ErrRunNotFound):
		// fresh nested run
	default:
		return nil, err
	}

	prepared := input
	if wf.DataPreparation != nil {
		prepared, err = wf.DataPreparation(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("workflow %q data preparation: %w", wf.ID, err)
		}
	}

	run := NewRun(runID, wf.ID, prepared)
	run.ParentRunID = parentRunID
	if err := o.store.Create(ctx, run); err != nil {
		return nil, err
	}
	return o.drive(ctx, wf, run)
}

// Resume re-enters an interrupted run, skipping steps whose completion is
// already persisted and re-resolving inputs from the persisted step results.
// Terminal runs are returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, wf *Workflow, runID string) (*Run, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow cannot be nil")
	}
	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.WorkflowID != wf.ID {
		return nil, fmt.Errorf("run %s belongs to workflow %q, not %q", runID, run.WorkflowID, wf.ID)
	}

	switch run.State {
	case RunStateRunning:
		ctx, span := workflowTracer().Start(ctx, spanRunResume)
		defer span.End()
		return o.drive(ctx, wf, run)
	case RunStateReverting:
		// Crash happened mid-cascade: finish the remaining compensations.
		cause := errors.New(run.FailureReason)
		failures := o.compensate(ctx, wf, run, run.FailedAction, cause)
		if err := o.setState(ctx, run, RunStateReverted); err != nil {
			return run, err
		}
		return run, &StepExecutionError{
			WorkflowID:           wf.ID,
			RunID:                run.ID,
			Action:               run.FailedAction,
			Cause:                cause,
			CompensationFailures: failures,
		}
	default:
		return run, nil
	}
}

// Revert rolls back a run that is running or already completed, compensating
// every completed step that has not been compensated yet. It is the cascade
// entrypoint used when a parent run's failure reaches a nested run.
func (o *Orchestrator) Revert(ctx context.Context, wf *Workflow, runID string, cause error) ([]CompensationFailure, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow cannot be nil")
	}
	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.WorkflowID != wf.ID {
		return nil, fmt.Errorf("run %s belongs to workflow %q, not %q", runID, run.WorkflowID, wf.ID)
	}

	switch run.State {
	case RunStateReverted, RunStateFailed:
		return run.CompensationFailures, nil
	case RunStateRunning, RunStateDone:
		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		if err := o.store.SetFailure(ctx, run.ID, run.FailedAction, reason); err != nil {
			return nil, err
		}
		run.FailureReason = reason
		if err := o.setState(ctx, run, RunStateReverting); err != nil {
			return nil, err
		}
	}

	failures := o.compensate(ctx, wf, run, run.FailedAction, cause)
	if err := o.setState(ctx, run, RunStateReverted); err != nil {
		return failures, err
	}
	return failures, nil
}

// drive executes the remaining layers of a running run and settles it into a
// terminal state.
func (o *Orchestrator) drive(ctx context.Context, wf *Workflow, run *Run) (*Run, error) {
	start := time.Now()
	o.metrics.IncActiveRuns()
	defer o.metrics.DecActiveRuns()

	ctx, span := workflowTracer().Start(ctx, spanRunForward)
	defer span.End()

	failure := o.runLayers(ctx, wf, run)

	if failure == nil {
		if err := o.setState(ctx, run, RunStateDone); err != nil {
			return run, err
		}
		o.metrics.RecordRunExecution(RunStateDone.String())
		o.metrics.RecordRunDuration(RunStateDone.String(), time.Since(start))
		o.logger.Info("workflow run completed", "workflow_id", wf.ID, "run_id", run.ID, "steps", len(run.CompletedActions))
		return run, nil
	}

	o.logger.Warn("workflow step failed, starting compensation",
		"workflow_id", wf.ID, "run_id", run.ID, "action", failure.action, "error", failure.err)

	run.SetFailure(failure.action, failure.err)
	if err := o.store.SetFailure(ctx, run.ID, failure.action, run.FailureReason); err != nil {
		return run, err
	}
	if err := o.setState(ctx, run, RunStateReverting); err != nil {
		return run, err
	}

	failures := o.compensate(ctx, wf, run, failure.action, failure.err)

	if err := o.setState(ctx, run, RunStateReverted); err != nil {
		return run, err
	}
	o.metrics.RecordRunExecution(RunStateReverted.String())
	o.metrics.RecordRunDuration(RunStateReverted.String(), time.Since(start))

	return run, &StepExecutionError{
		WorkflowID:           wf.ID,
		RunID:                run.ID,
		Action:               failure.action,
		Cause:                failure.err,
		CompensationFailures: failures,
	}
}

type stepFailure struct {
	action string
	err    error
}

// runLayers walks the step graph depth layer by depth layer. Siblings within
// a layer run concurrently; the next layer starts only after every step of
// the current one has settled and its completion has been durably recorded.
// Steps already present in the run's completion order are skipped.
func (o *Orchestrator) runLayers(ctx context.Context, wf *Workflow, run *Run) *stepFailure {
	completed := make(map[string]struct{}, len(run.CompletedActions))
	for _, action := range run.CompletedActions {
		completed[action] = struct{}{}
	}

	results := copyResultMap(run.StepResults)
	var mu sync.Mutex // guards results and per-run persistence order

	for _, layer := range wf.layers {
		pending := make([]*StepDefinition, 0, len(layer))
		for _, step := range layer {
			if _, done := completed[step.Action]; !done {
				pending = append(pending, step)
			}
		}
		if len(pending) == 0 {
			continue
		}

		var wg sync.WaitGroup
		failCh := make(chan stepFailure, len(pending))

		for _, step := range pending {
			wg.Add(1)
			go func(step *StepDefinition) {
				defer wg.Done()
				if err := o.invokeStep(ctx, wf, run, step, results, &mu); err != nil {
					failCh <- stepFailure{action: step.Action, err: err}
				}
			}(step)
		}

		// Every in-flight sibling settles, success or failure, before any
		// compensation can begin.
		wg.Wait()
		close(failCh)
		if failure, ok := <-failCh; ok {
			return &failure
		}
	}
	return nil
}

func (o *Orchestrator) invokeStep(
	ctx context.Context,
	wf *Workflow,
	run *Run,
	step *StepDefinition,
	results map[string]any,
	mu *sync.Mutex,
) error {
	ctx, span := workflowTracer().Start(ctx, spanStepInvoke)
	defer span.End()

	if err := o.appendEvent(ctx, Event{RunID: run.ID, Action: step.Action, Type: EventStepStarted}); err != nil {
		return err
	}

	handler, _ := wf.Handlers.Get(step.Action)

	mu.Lock()
	snapshot := copyResultMap(results)
	mu.Unlock()

	out, err := handler.Invoke(ctx, &StepContext{
		RunID:      run.ID,
		WorkflowID: wf.ID,
		Action:     step.Action,
		Input:      run.Input,
		Results:    snapshot,
	})
	if err != nil {
		_ = o.appendEvent(ctx, Event{RunID: run.ID, Action: step.Action, Type: EventStepFailed, Detail: err.Error()})
		return err
	}

	save := step.savesResponse()

	// Write-ahead discipline: the result lands before the completion marker,
	// and both are durable before this step's children become eligible.
	mu.Lock()
	defer mu.Unlock()
	if save {
		if err := o.store.AppendResult(ctx, run.ID, step.Action, out); err != nil {
			return err
		}
		results[step.Action] = out
	}
	if err := o.store.AppendCompletedAction(ctx, run.ID, step.Action); err != nil {
		return err
	}
	run.MarkStepCompleted(step.Action, out, save)

	return o.appendEvent(ctx, Event{RunID: run.ID, Action: step.Action, Type: EventStepCompleted})
}

// compensate walks the run's completed actions in reverse chronological order
// and attempts each step's compensation exactly once. A failed compensation
// is recorded and the walk continues, so the rollback is best-effort complete
// rather than stuck. Actions already compensated (a resumed cascade) are
// skipped.
func (o *Orchestrator) compensate(ctx context.Context, wf *Workflow, run *Run, failedAction string, cause error) []CompensationFailure {
	ctx, span := workflowTracer().Start(ctx, spanRunCompensate)
	defer span.End()

	start := time.Now()
	defer func() { o.metrics.RecordCompensationDuration(time.Since(start)) }()

	done := make(map[string]struct{}, len(run.Compensated))
	for _, action := range run.Compensated {
		done[action] = struct{}{}
	}

	for i := len(run.CompletedActions) - 1; i >= 0; i-- {
		action := run.CompletedActions[i]
		if _, already := done[action]; already {
			continue
		}
		step, ok := wf.Step(action)
		if !ok || step.NoCompensation {
			continue
		}
		handler, _ := wf.Handlers.Get(action)
		if handler.Compensate == nil {
			continue
		}

		if err := o.compensateStep(ctx, wf, run, action, failedAction, cause, handler.Compensate); err != nil {
			o.metrics.RecordCompensation("failed")
			o.logger.Warn("compensation failed, continuing reverse walk",
				"workflow_id", wf.ID, "run_id", run.ID, "action", action, "error", err)

			run.AddCompensationFailure(action, err)
			failure := &CompensationFailure{Action: action, Reason: err.Error()}
			if storeErr := o.store.RecordCompensation(ctx, run.ID, action, failure); storeErr != nil {
				o.logger.Error("failed to persist compensation failure", "run_id", run.ID, "action", action, "error", storeErr)
			}
			continue
		}

		o.metrics.RecordCompensation("compensated")
		run.MarkCompensated(action)
		if storeErr := o.store.RecordCompensation(ctx, run.ID, action, nil); storeErr != nil {
			o.logger.Error("failed to persist compensation", "run_id", run.ID, "action", action, "error", storeErr)
		}
	}

	return run.CompensationFailures
}

func (o *Orchestrator) compensateStep(
	ctx context.Context,
	wf *Workflow,
	run *Run,
	action, failedAction string,
	cause error,
	compensate CompensateFunc,
) error {
	ctx, span := workflowTracer().Start(ctx, spanStepCompensate)
	defer span.End()

	if err := o.appendEvent(ctx, Event{RunID: run.ID, Action: action, Type: EventCompensationStarted}); err != nil {
		return err
	}

	err := compensate(ctx, &CompensateContext{
		RunID:        run.ID,
		WorkflowID:   wf.ID,
		Action:       action,
		FailedAction: failedAction,
		Failure:      cause,
		Input:        run.Input,
		Result:       run.StepResults[action],
		Results:      copyResultMap(run.StepResults),
	})
	if err != nil {
		_ = o.appendEvent(ctx, Event{RunID: run.ID, Action: action, Type: EventCompensationFailed, Detail: err.Error()})
		return err
	}
	return o.appendEvent(ctx, Event{RunID: run.ID, Action: action, Type: EventCompensationCompleted})
}

func (o *Orchestrator) setState(ctx context.Context, run *Run, state RunState) error {
	if err := o.store.SetState(ctx, run.ID, state); err != nil {
		return err
	}
	if err := run.TransitionTo(state); err != nil {
		return err
	}
	return o.appendEvent(ctx, Event{RunID: run.ID, Type: EventRunStateChanged, Detail: state.String()})
}

func (o *Orchestrator) appendEvent(ctx context.Context, event Event) error {
	if o.wal == nil {
		return nil
	}
	_, err := o.wal.Append(ctx, event)
	return err
}
