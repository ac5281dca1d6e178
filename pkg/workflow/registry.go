package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Runner executes a registered workflow end to end and returns the output of
// the result action chosen at export time.
type Runner func(ctx context.Context, input any) (any, error)

// Registry holds workflow definitions and binds them to an orchestrator.
// It is an explicit value: callers construct one and pass it where needed,
// and independent registries never share definitions.
type Registry struct {
	mu           sync.RWMutex
	workflows    map[string]*Workflow
	orchestrator *Orchestrator
}

// NewRegistry creates a registry backed by the given orchestrator. A nil
// orchestrator gets replaced with a default in-memory one.
func NewRegistry(orchestrator *Orchestrator) *Registry {
	if orchestrator == nil {
		orchestrator = NewOrchestrator()
	}
	return &Registry{
		workflows:    make(map[string]*Workflow),
		orchestrator: orchestrator,
	}
}

// Orchestrator returns the orchestrator this registry binds workflows to.
func (r *Registry) Orchestrator() *Orchestrator { return r.orchestrator }

// Register compiles a step graph against its handlers and stores the workflow
// under its ID. The whole definition is validated here: unknown handlers,
// duplicate actions, cycles, and missing compensations all fail registration,
// never execution.
func (r *Registry) Register(workflowID string, root *StepDefinition, handlers *HandlerRegistry, dataPreparation DataPreparationFunc) (*Workflow, error) {
	if workflowID == "" {
		return nil, configErrf("", "workflow id cannot be empty")
	}
	if root == nil {
		return nil, configErrf(workflowID, "workflow has no steps")
	}
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}

	steps, layers, err := compileGraph(workflowID, root, handlers)
	if err != nil {
		return nil, err
	}

	wf := &Workflow{
		ID:              workflowID,
		Root:            root,
		Handlers:        handlers,
		DataPreparation: dataPreparation,
		steps:           steps,
		layers:          layers,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workflows[workflowID]; exists {
		return nil, configErrf(workflowID, "workflow %q is already registered", workflowID)
	}
	r.workflows[workflowID] = wf
	return wf, nil
}

// Get returns a registered workflow.
func (r *Registry) Get(workflowID string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", workflowID, ErrWorkflowNotFound)
	}
	return wf, nil
}

// IDs lists the registered workflow IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	return ids
}

// Execute runs a registered workflow by ID.
func (r *Registry) Execute(ctx context.Context, workflowID string, input any) (*Run, error) {
	wf, err := r.Get(workflowID)
	if err != nil {
		return nil, err
	}
	return r.orchestrator.Execute(ctx, wf, input)
}

// Resume re-enters an interrupted run of a registered workflow.
func (r *Registry) Resume(ctx context.Context, workflowID, runID string) (*Run, error) {
	wf, err := r.Get(workflowID)
	if err != nil {
		return nil, err
	}
	return r.orchestrator.Resume(ctx, wf, runID)
}

// Export packages a registered workflow as a plain function. The returned
// Runner executes the whole workflow and yields the persisted output of
// resultAction; callers need no knowledge of steps, runs, or compensation.
func (r *Registry) Export(workflowID, resultAction string) (Runner, error) {
	wf, err := r.Get(workflowID)
	if err != nil {
		return nil, err
	}
	if err := validateResultAction(wf, resultAction); err != nil {
		return nil, err
	}

	orchestrator := r.orchestrator
	return func(ctx context.Context, input any) (any, error) {
		run, err := orchestrator.Execute(ctx, wf, input)
		if err != nil {
			return nil, err
		}
		return run.StepResults[resultAction], nil
	}, nil
}

// NestedRunID derives the run ID of a nested workflow run from the parent run
// and the spawning action. The derivation is deterministic so a resumed or
// compensating parent can find its children without persisted bookkeeping.
func NestedRunID(parentRunID, action string) string {
	return parentRunID + "." + action
}

// RunAsStep packages a registered workflow as a step handler for embedding in
// another workflow. The handler's Invoke executes the nested workflow (or
// resumes it, if a previous attempt already created the nested run) and
// returns the output of resultAction. Its Compensate reverts the nested run,
// cascading the parent's rollback through every completed nested step.
//
// buildInput derives the nested workflow's input from the parent step
// context; a nil buildInput passes the parent run's input through unchanged.
func (r *Registry) RunAsStep(workflowID, resultAction string, buildInput func(ctx context.Context, step *StepContext) (any, error)) (Handler, error) {
	wf, err := r.Get(workflowID)
	if err != nil {
		return Handler{}, err
	}
	if err := validateResultAction(wf, resultAction); err != nil {
		return Handler{}, err
	}

	orchestrator := r.orchestrator

	invoke := func(ctx context.Context, step *StepContext) (any, error) {
		input := step.Input
		if buildInput != nil {
			var err error
			input, err = buildInput(ctx, step)
			if err != nil {
				return nil, fmt.Errorf("nested workflow %q input: %w", workflowID, err)
			}
		}
		run, err := orchestrator.ExecuteNested(ctx, wf, NestedRunID(step.RunID, step.Action), step.RunID, input)
		if err != nil {
			return nil, err
		}
		return run.StepResults[resultAction], nil
	}

	compensate := func(ctx context.Context, comp *CompensateContext) error {
		runID := NestedRunID(comp.RunID, comp.Action)
		failures, err := orchestrator.Revert(ctx, wf, runID, comp.Failure)
		if errors.Is(err, ErrRunNotFound) {
			// The nested run never started; nothing to undo.
			return nil
		}
		if err != nil {
			return err
		}
		if len(failures) > 0 {
			return fmt.Errorf("nested workflow %q run %s: %d compensation(s) failed", workflowID, runID, len(failures))
		}
		return nil
	}

	return Handler{Invoke: invoke, Compensate: compensate}, nil
}

func validateResultAction(wf *Workflow, resultAction string) error {
	if resultAction == "" {
		return configErrf(wf.ID, "result action cannot be empty")
	}
	step, ok := wf.Step(resultAction)
	if !ok {
		return configErrf(wf.ID, "result action %q is not a step of the workflow", resultAction)
	}
	if !step.savesResponse() {
		return configErrf(wf.ID, "result action %q does not save its response", resultAction)
	}
	return nil
}
