package workflow

import "strings"

// compileGraph validates a step tree against its handler registry and returns
// the per-action index plus the depth layers used by the orchestrator.
//
// The root node is virtual: its Action is empty and it has no handler; only
// its Next entries are real steps. Validation rejects duplicate actions,
// cycles, steps without an invoke handler, and steps without a compensate
// handler unless flagged NoCompensation.
func compileGraph(workflowID string, root *StepDefinition, handlers *HandlerRegistry) (map[string]*StepDefinition, [][]*StepDefinition, error) {
	if root == nil {
		return nil, nil, configErrf(workflowID, "step definition graph cannot be nil")
	}
	if root.Action != "" {
		return nil, nil, configErrf(workflowID, "graph root is virtual and must not name an action (got %q)", root.Action)
	}

	steps := make(map[string]*StepDefinition)
	ancestors := make(map[*StepDefinition]struct{})

	var walk func(node *StepDefinition, depth int) error
	depths := make(map[string]int)

	walk = func(node *StepDefinition, depth int) error {
		ancestors[node] = struct{}{}
		defer delete(ancestors, node)

		for _, child := range node.Next {
			if child == nil {
				return configErrf(workflowID, "step %q has a nil child", node.Action)
			}
			if strings.TrimSpace(child.Action) == "" {
				return configErrf(workflowID, "step action cannot be empty")
			}
			if _, onPath := ancestors[child]; onPath {
				return configErrf(workflowID, "cycle detected through step %q", child.Action)
			}
			if prev, seen := steps[child.Action]; seen {
				if prev != child {
					return configErrf(workflowID, "duplicate step action %q", child.Action)
				}
				// Same node reachable twice: a step has exactly one predecessor.
				return configErrf(workflowID, "step %q has more than one predecessor", child.Action)
			}
			steps[child.Action] = child
			depths[child.Action] = depth + 1

			if err := validateHandlers(workflowID, child, handlers); err != nil {
				return err
			}
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return nil, nil, err
	}
	if len(steps) == 0 {
		return nil, nil, configErrf(workflowID, "workflow must define at least one step")
	}

	maxDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	layers := make([][]*StepDefinition, maxDepth)

	var fill func(node *StepDefinition)
	fill = func(node *StepDefinition) {
		for _, child := range node.Next {
			layers[depths[child.Action]-1] = append(layers[depths[child.Action]-1], child)
			fill(child)
		}
	}
	fill(root)

	return steps, layers, nil
}

func validateHandlers(workflowID string, step *StepDefinition, handlers *HandlerRegistry) error {
	if handlers == nil {
		return configErrf(workflowID, "handler registry cannot be nil")
	}
	h, ok := handlers.Get(step.Action)
	if !ok {
		return configErrf(workflowID, "no handler registered for step %q", step.Action)
	}
	if h.Invoke == nil {
		return configErrf(workflowID, "step %q handler has no invoke function", step.Action)
	}
	if !step.NoCompensation && h.Compensate == nil {
		return configErrf(workflowID, "step %q requires a compensate function or the noCompensation flag", step.Action)
	}
	return nil
}
