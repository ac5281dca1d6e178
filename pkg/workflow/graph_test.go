package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func noopHandler() Handler {
	return Handler{
		Invoke:     func(ctx context.Context, step *StepContext) (any, error) { return nil, nil },
		Compensate: func(ctx context.Context, comp *CompensateContext) error { return nil },
	}
}

func handlersFor(t testing.TB, actions ...string) *HandlerRegistry {
	t.Helper()
	registry := NewHandlerRegistry()
	for _, action := range actions {
		if err := registry.Register(action, noopHandler()); err != nil {
			t.Fatalf("Register(%q) error = %v", action, err)
		}
	}
	return registry
}

func TestCompileGraphLayers(t *testing.T) {
	root := &StepDefinition{
		Next: Steps{
			{Action: "a", Next: Steps{
				{Action: "b", Next: Steps{{Action: "d"}}},
				{Action: "c"},
			}},
		},
	}

	steps, layers, err := compileGraph("wf", root, handlersFor(t, "a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("compileGraph() error = %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("expected 4 indexed steps, got %d", len(steps))
	}
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(layers))
	}
	if len(layers[0]) != 1 || layers[0][0].Action != "a" {
		t.Fatalf("unexpected first layer: %#v", layers[0])
	}
	if len(layers[1]) != 2 {
		t.Fatalf("expected 2 siblings at depth 2, got %d", len(layers[1]))
	}
	if len(layers[2]) != 1 || layers[2][0].Action != "d" {
		t.Fatalf("unexpected third layer: %#v", layers[2])
	}
}

func TestCompileGraphRejectsNamedRoot(t *testing.T) {
	root := &StepDefinition{Action: "a"}
	_, _, err := compileGraph("wf", root, handlersFor(t, "a"))
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestCompileGraphRejectsEmptyGraph(t *testing.T) {
	_, _, err := compileGraph("wf", &StepDefinition{}, NewHandlerRegistry())
	if err == nil {
		t.Fatal("expected error for workflow without steps")
	}
}

func TestCompileGraphRejectsDuplicateAction(t *testing.T) {
	root := &StepDefinition{
		Next: Steps{
			{Action: "a", Next: Steps{{Action: "b"}}},
			{Action: "b"},
		},
	}
	_, _, err := compileGraph("wf", root, handlersFor(t, "a", "b"))
	if err == nil {
		t.Fatal("expected duplicate action error")
	}
}

func TestCompileGraphRejectsCycle(t *testing.T) {
	a := &StepDefinition{Action: "a"}
	b := &StepDefinition{Action: "b"}
	a.Next = Steps{b}
	b.Next = Steps{a}
	root := &StepDefinition{Next: Steps{a}}

	_, _, err := compileGraph("wf", root, handlersFor(t, "a", "b"))
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestCompileGraphRejectsSharedChild(t *testing.T) {
	shared := &StepDefinition{Action: "c"}
	root := &StepDefinition{
		Next: Steps{
			{Action: "a", Next: Steps{shared}},
			{Action: "b", Next: Steps{shared}},
		},
	}
	_, _, err := compileGraph("wf", root, handlersFor(t, "a", "b", "c"))
	if err == nil {
		t.Fatal("expected error for step with two predecessors")
	}
}

func TestCompileGraphRejectsMissingHandler(t *testing.T) {
	root := &StepDefinition{Next: Steps{{Action: "a"}}}
	_, _, err := compileGraph("wf", root, NewHandlerRegistry())
	if err == nil {
		t.Fatal("expected missing handler error")
	}
}

func TestCompileGraphRequiresCompensateUnlessFlagged(t *testing.T) {
	registry := NewHandlerRegistry()
	if err := registry.Register("a", Handler{
		Invoke: func(ctx context.Context, step *StepContext) (any, error) { return nil, nil },
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	root := &StepDefinition{Next: Steps{{Action: "a"}}}
	if _, _, err := compileGraph("wf", root, registry); err == nil {
		t.Fatal("expected error for missing compensate function")
	}

	flagged := &StepDefinition{Next: Steps{{Action: "a", NoCompensation: true}}}
	if _, _, err := compileGraph("wf", flagged, registry); err != nil {
		t.Fatalf("compileGraph() with noCompensation error = %v", err)
	}
}

func TestStepsUnmarshalObjectOrArray(t *testing.T) {
	var single Steps
	if err := json.Unmarshal([]byte(`{"action":"a"}`), &single); err != nil {
		t.Fatalf("Unmarshal(object) error = %v", err)
	}
	if len(single) != 1 || single[0].Action != "a" {
		t.Fatalf("unexpected single decode: %#v", single)
	}

	var many Steps
	if err := json.Unmarshal([]byte(`[{"action":"a"},{"action":"b"}]`), &many); err != nil {
		t.Fatalf("Unmarshal(array) error = %v", err)
	}
	if len(many) != 2 || many[1].Action != "b" {
		t.Fatalf("unexpected array decode: %#v", many)
	}

	var bad Steps
	if err := json.Unmarshal([]byte(`"a"`), &bad); err == nil {
		t.Fatal("expected error for scalar next value")
	}
}

func TestWorkflowActionsBreadthFirst(t *testing.T) {
	root := &StepDefinition{
		Next: Steps{
			{Action: "a", Next: Steps{{Action: "c"}}},
			{Action: "b"},
		},
	}
	steps, layers, err := compileGraph("wf", root, handlersFor(t, "a", "b", "c"))
	if err != nil {
		t.Fatalf("compileGraph() error = %v", err)
	}
	wf := &Workflow{ID: "wf", Root: root, steps: steps, layers: layers}

	actions := wf.Actions()
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %v", actions)
	}
	if actions[len(actions)-1] != "c" {
		t.Fatalf("expected deepest action last, got %v", actions)
	}
}
