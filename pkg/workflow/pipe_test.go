package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestPipeResolvesRefsAndChainsStages(t *testing.T) {
	invoke, err := Pipe(PipeConfig{
		InputAlias: "cart",
		Invoke: []Ref{
			{From: "cart"},
			{From: "capture-payment", Alias: "payment"},
		},
		Merge: true,
	},
		func(ctx context.Context, data map[string]any) (StageResult, error) {
			cart := data["cart"].(string)
			payment := data["payment"].(string)
			return StageResult{Alias: "combined", Value: cart + "+" + payment}, nil
		},
		func(ctx context.Context, data map[string]any) (StageResult, error) {
			return StageResult{Value: data["combined"].(string) + "+done"}, nil
		},
	)
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}

	out, err := invoke(context.Background(), &StepContext{
		Input:   "cart-1",
		Results: map[string]any{"capture-payment": "pay-1"},
	})
	if err != nil {
		t.Fatalf("invoke error = %v", err)
	}
	if out != "cart-1+pay-1+done" {
		t.Fatalf("unexpected pipeline output: %v", out)
	}
}

func TestPipeNestsUnderDataWithoutMerge(t *testing.T) {
	invoke, err := Pipe(PipeConfig{
		Invoke: []Ref{{From: "reserve-inventory", Alias: "reservation"}},
	}, func(ctx context.Context, data map[string]any) (StageResult, error) {
		nested, ok := data["data"].(map[string]any)
		if !ok {
			return StageResult{}, errors.New("expected nested data map")
		}
		return StageResult{Value: nested["reservation"]}, nil
	})
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}

	out, err := invoke(context.Background(), &StepContext{
		Results: map[string]any{"reserve-inventory": "res-9"},
	})
	if err != nil {
		t.Fatalf("invoke error = %v", err)
	}
	if out != "res-9" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestPipeRejectsAliasCollision(t *testing.T) {
	_, err := Pipe(PipeConfig{
		Invoke: []Ref{
			{From: "a", Alias: "x"},
			{From: "b", Alias: "x"},
		},
	}, func(ctx context.Context, data map[string]any) (StageResult, error) {
		return StageResult{}, nil
	})
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError for alias collision, got %v", err)
	}
}

func TestPipeRejectsEmptyStagesAndRefs(t *testing.T) {
	if _, err := Pipe(PipeConfig{}); err == nil {
		t.Fatal("expected error for pipe without stages")
	}
	_, err := Pipe(PipeConfig{Invoke: []Ref{{From: ""}}}, func(ctx context.Context, data map[string]any) (StageResult, error) {
		return StageResult{}, nil
	})
	if err == nil {
		t.Fatal("expected error for ref without source action")
	}
}

func TestPipeStageErrorStopsChain(t *testing.T) {
	boom := errors.New("stage failed")
	second := false
	invoke, err := Pipe(PipeConfig{},
		func(ctx context.Context, data map[string]any) (StageResult, error) {
			return StageResult{}, boom
		},
		func(ctx context.Context, data map[string]any) (StageResult, error) {
			second = true
			return StageResult{}, nil
		},
	)
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	if _, err := invoke(context.Background(), &StepContext{}); !errors.Is(err, boom) {
		t.Fatalf("expected stage error, got %v", err)
	}
	if second {
		t.Fatal("second stage ran after first stage failed")
	}
}

func TestPipeLaterStageWinsOnRuntimeCollision(t *testing.T) {
	invoke, err := Pipe(PipeConfig{
		Invoke: []Ref{{From: "a", Alias: "x"}},
		Merge:  true,
	},
		func(ctx context.Context, data map[string]any) (StageResult, error) {
			return StageResult{Alias: "x", Value: "overwritten"}, nil
		},
		func(ctx context.Context, data map[string]any) (StageResult, error) {
			return StageResult{Value: data["x"]}, nil
		},
	)
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	out, err := invoke(context.Background(), &StepContext{Results: map[string]any{"a": "original"}})
	if err != nil {
		t.Fatalf("invoke error = %v", err)
	}
	if out != "overwritten" {
		t.Fatalf("expected later stage value to win, got %v", out)
	}
}

func TestPipeCompensateResolvesLikeForward(t *testing.T) {
	var seen any
	compensate, err := PipeCompensate(PipeConfig{
		InputAlias: "order",
		Invoke: []Ref{
			{From: "order"},
			{From: "place-order", Alias: "placed"},
		},
		Merge: true,
	}, func(ctx context.Context, data map[string]any) (StageResult, error) {
		seen = data["placed"]
		return StageResult{}, nil
	})
	if err != nil {
		t.Fatalf("PipeCompensate() error = %v", err)
	}

	err = compensate(context.Background(), &CompensateContext{
		Input:   "order-1",
		Results: map[string]any{"place-order": "ord-7"},
	})
	if err != nil {
		t.Fatalf("compensate error = %v", err)
	}
	if seen != "ord-7" {
		t.Fatalf("unexpected resolved value: %v", seen)
	}
}
