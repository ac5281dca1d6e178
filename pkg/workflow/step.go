// Package workflow provides the transaction orchestration engine: declarative
// step graphs with compensating actions, durable run state, and resumable
// execution.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// StepDefinition is one node of a workflow's execution graph. A step's
// children run only after the step itself has succeeded.
type StepDefinition struct {
	// Action is the step's name, unique within one workflow.
	Action string `json:"action"`

	// Next holds the steps that depend on this one. Sibling entries are
	// independent branches and execute concurrently.
	Next Steps `json:"next,omitempty"`

	// NoCompensation marks a step without a rollback action. Such steps are
	// skipped during the compensation cascade.
	NoCompensation bool `json:"noCompensation,omitempty"`

	// SaveResponse controls whether the step's output is persisted into the
	// run's step results. Nil means true.
	SaveResponse *bool `json:"saveResponse,omitempty"`
}

func (s *StepDefinition) savesResponse() bool {
	return s.SaveResponse == nil || *s.SaveResponse
}

// Steps is a list of child step definitions. Its JSON form accepts either a
// single object or an array, mirroring declarative workflow documents where a
// sole child is written without brackets. Internally the single-child shape is
// always normalized to a slice.
type Steps []*StepDefinition

// UnmarshalJSON decodes either one StepDefinition object or an array of them.
func (s *Steps) UnmarshalJSON(data []byte) error {
	trimmed := firstNonSpace(data)
	switch trimmed {
	case '[':
		var many []*StepDefinition
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*s = many
		return nil
	case '{':
		var one StepDefinition
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = Steps{&one}
		return nil
	default:
		return fmt.Errorf("step next must be an object or an array")
	}
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// Bool is a convenience for the SaveResponse field of literal step trees.
func Bool(v bool) *bool { return &v }

// DataPreparationFunc converts a caller's raw workflow input into the payload
// the root steps expect. It runs once, before the run record is created.
type DataPreparationFunc func(ctx context.Context, input any) (any, error)

// Workflow is a registered pairing of a step graph, its handlers, and the
// input preparation function. Instances are built by Registry.Register and
// are immutable afterwards.
type Workflow struct {
	ID              string
	Root            *StepDefinition
	Handlers        *HandlerRegistry
	DataPreparation DataPreparationFunc

	steps  map[string]*StepDefinition
	layers [][]*StepDefinition
}

// Step looks up a step definition by action name.
func (w *Workflow) Step(action string) (*StepDefinition, bool) {
	s, ok := w.steps[action]
	return s, ok
}

// Actions returns all action names in breadth-first order.
func (w *Workflow) Actions() []string {
	out := make([]string, 0, len(w.steps))
	for _, layer := range w.layers {
		for _, step := range layer {
			out = append(out, step.Action)
		}
	}
	return out
}
