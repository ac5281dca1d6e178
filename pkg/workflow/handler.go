package workflow

import "context"

// InvokeFunc executes a step's forward action.
type InvokeFunc func(ctx context.Context, stepCtx *StepContext) (any, error)

// CompensateFunc executes a step's reverse action during rollback.
type CompensateFunc func(ctx context.Context, compCtx *CompensateContext) error

// StepContext carries runtime information for forward step execution.
type StepContext struct {
	RunID      string
	WorkflowID string
	Action     string

	// Input is the run's prepared input payload.
	Input any

	// Results is a snapshot of prior steps' persisted outputs, keyed by action.
	Results map[string]any
}

// CompensateContext carries runtime information for compensation execution.
// The resolved data matches what was available at forward-invocation time.
type CompensateContext struct {
	RunID      string
	WorkflowID string
	Action     string

	// FailedAction names the step whose failure triggered the cascade.
	FailedAction string
	// Failure is the original step failure.
	Failure error

	Input any
	// Result is this step's own persisted output, if it saved one.
	Result any
	// Results holds all persisted step outputs at the time of the failure.
	Results map[string]any
}

// Handler binds a step action to its invoke and optional compensate functions.
// Entries are immutable after registration.
type Handler struct {
	Invoke     InvokeFunc
	Compensate CompensateFunc
}

// HandlerRegistry owns all handler entries for one workflow.
type HandlerRegistry struct {
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// NewHandlers builds a registry from an action-to-handler map.
func NewHandlers(entries map[string]Handler) (*HandlerRegistry, error) {
	r := NewHandlerRegistry()
	for action, h := range entries {
		if err := r.Register(action, h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register stores one handler entry. Re-registering an action is rejected.
func (r *HandlerRegistry) Register(action string, h Handler) error {
	if action == "" {
		return configErrf("", "handler action cannot be empty")
	}
	if h.Invoke == nil {
		return configErrf("", "handler for %q has no invoke function", action)
	}
	if _, exists := r.handlers[action]; exists {
		return configErrf("", "handler for %q already registered", action)
	}
	r.handlers[action] = h
	return nil
}

// Get looks up the handler for an action.
func (r *HandlerRegistry) Get(action string) (Handler, bool) {
	h, ok := r.handlers[action]
	return h, ok
}

// Len returns the number of registered handlers.
func (r *HandlerRegistry) Len() int { return len(r.handlers) }
