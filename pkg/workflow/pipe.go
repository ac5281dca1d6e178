package workflow

import "context"

// Ref names a prior step's output to feed into a pipeline. An empty Alias
// keeps the source action's name.
type Ref struct {
	From  string
	Alias string
}

// PipeConfig declares how a pipeline assembles its initial accumulated data
// before any stage runs.
type PipeConfig struct {
	// InputAlias exposes the run's prepared input payload: a Ref whose From
	// equals InputAlias resolves to the input instead of a step result.
	InputAlias string

	// Invoke lists the step outputs to resolve.
	Invoke []Ref

	// Merge places each resolved value at the top level of the accumulated
	// data under its alias. Without Merge, resolved values are nested under
	// the "data" key.
	Merge bool
}

// StageResult is one stage's contribution to the accumulated data. An empty
// Alias stores the value under "data".
type StageResult struct {
	Alias string
	Value any
}

// Stage is one transformation in a pipeline. It receives the accumulated data
// and returns a named value that is merged in for the next stage.
type Stage func(ctx context.Context, data map[string]any) (StageResult, error)

const pipeDataKey = "data"

// Pipe composes an ordered sequence of stages into one invoke function. The
// final stage's value becomes the step's output. Alias collisions among the
// configured refs are rejected here, at construction time; collisions
// introduced by stages at runtime resolve to the later stage winning.
func Pipe(cfg PipeConfig, stages ...Stage) (InvokeFunc, error) {
	if err := validatePipe(cfg, len(stages)); err != nil {
		return nil, err
	}
	return func(ctx context.Context, stepCtx *StepContext) (any, error) {
		acc := assemble(cfg, stepCtx.Input, stepCtx.Results)
		var out any
		for _, stage := range stages {
			res, err := stage(ctx, acc)
			if err != nil {
				return nil, err
			}
			mergeStage(acc, res)
			out = res.Value
		}
		return out, nil
	}, nil
}

// PipeCompensate composes stages into one compensate function. The resolved
// data matches forward-invocation resolution, with the step's own persisted
// result reachable through its action name.
func PipeCompensate(cfg PipeConfig, stages ...Stage) (CompensateFunc, error) {
	if err := validatePipe(cfg, len(stages)); err != nil {
		return nil, err
	}
	return func(ctx context.Context, compCtx *CompensateContext) error {
		acc := assemble(cfg, compCtx.Input, compCtx.Results)
		for _, stage := range stages {
			res, err := stage(ctx, acc)
			if err != nil {
				return err
			}
			mergeStage(acc, res)
		}
		return nil
	}, nil
}

func validatePipe(cfg PipeConfig, stageCount int) error {
	if stageCount == 0 {
		return configErrf("", "pipe requires at least one stage")
	}
	seen := make(map[string]string, len(cfg.Invoke))
	for _, ref := range cfg.Invoke {
		if ref.From == "" {
			return configErrf("", "pipe ref requires a source action")
		}
		alias := ref.Alias
		if alias == "" {
			alias = ref.From
		}
		if prev, dup := seen[alias]; dup {
			return configErrf("", "pipe alias %q bound to both %q and %q", alias, prev, ref.From)
		}
		seen[alias] = ref.From
	}
	return nil
}

func assemble(cfg PipeConfig, input any, results map[string]any) map[string]any {
	acc := make(map[string]any)
	var nested map[string]any
	if !cfg.Merge {
		nested = make(map[string]any, len(cfg.Invoke))
		acc[pipeDataKey] = nested
	}

	for _, ref := range cfg.Invoke {
		var value any
		if cfg.InputAlias != "" && ref.From == cfg.InputAlias {
			value = input
		} else {
			value = results[ref.From]
		}
		alias := ref.Alias
		if alias == "" {
			alias = ref.From
		}
		if cfg.Merge {
			acc[alias] = value
		} else {
			nested[alias] = value
		}
	}
	return acc
}

func mergeStage(acc map[string]any, res StageResult) {
	alias := res.Alias
	if alias == "" {
		alias = pipeDataKey
	}
	acc[alias] = res.Value
}
