package pregel

import (
	"context"
	"errors"
	"testing"

	"github.com/pregel-run/pregel-go/channel"
)

func lastValueFactories(names ...string) map[string]channel.Factory {
	out := make(map[string]channel.Factory, len(names))
	for _, n := range names {
		out[n] = channel.NewLastValue[any]()
	}
	return out
}

// single process identity: input 2 -> output 3.
func TestLoopSingleProcessIdentity(t *testing.T) {
	registry := []Process{{
		Name:  "increment",
		Reads: []ChannelRef{{Name: DefaultInputChannel, Trigger: true}},
		Run: func(_ context.Context, input any) ([]Write, error) {
			return []Write{{Channel: "out", Value: input.(int) + 1}}, nil
		},
	}}

	result, err := Run(context.Background(), registry, lastValueFactories(DefaultInputChannel, "out"), 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusDone {
		t.Fatalf("expected StatusDone, got %s", result.Status)
	}
	if result.Values["out"] != 3 {
		t.Fatalf("expected out=3, got %v", result.Values["out"])
	}
}

// pipeline: A doubles into mid, B adds one from mid into out.
func TestLoopPipeline(t *testing.T) {
	registry := []Process{
		{
			Name:  "double",
			Reads: []ChannelRef{{Name: DefaultInputChannel, Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "mid", Value: input.(int) * 2}}, nil
			},
		},
		{
			Name:  "increment",
			Reads: []ChannelRef{{Name: "mid", Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "out", Value: input.(int) + 1}}, nil
			},
		},
	}

	result, err := Run(context.Background(), registry, lastValueFactories(DefaultInputChannel, "mid", "out"), 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusDone {
		t.Fatalf("expected StatusDone, got %s", result.Status)
	}
	if result.Values["out"] != 7 {
		t.Fatalf("expected out=7 ((3*2)+1), got %v", result.Values["out"])
	}
}

// fanout/join: B and C both react to input in the same superstep; D
// joins their outputs once both are available.
func TestLoopFanoutJoin(t *testing.T) {
	registry := []Process{
		{
			Name:  "left",
			Reads: []ChannelRef{{Name: DefaultInputChannel, Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "left_out", Value: input.(int) + 1}}, nil
			},
		},
		{
			Name:  "right",
			Reads: []ChannelRef{{Name: DefaultInputChannel, Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "right_out", Value: input.(int) * 10}}, nil
			},
		},
		{
			Name: "join",
			Reads: []ChannelRef{
				{Name: "left_out", Key: "left", Trigger: true},
				{Name: "right_out", Key: "right", Trigger: true},
			},
			Run: func(_ context.Context, input any) ([]Write, error) {
				m := input.(map[string]any)
				return []Write{{Channel: "joined", Value: m["left"].(int) + m["right"].(int)}}, nil
			},
		},
	}

	factories := lastValueFactories(DefaultInputChannel, "left_out", "right_out", "joined")
	result, err := Run(context.Background(), registry, factories, 4)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusDone {
		t.Fatalf("expected StatusDone, got %s", result.Status)
	}
	if result.Values["joined"] != 45 { // (4+1) + (4*10)
		t.Fatalf("expected joined=45, got %v", result.Values["joined"])
	}
}

// a process writing twice to the same LastValue channel in one step
// is rejected rather than silently taking the last write.
func TestLoopRejectsDoubleWriteToLastValue(t *testing.T) {
	registry := []Process{{
		Name:  "bad",
		Reads: []ChannelRef{{Name: DefaultInputChannel, Trigger: true}},
		Run: func(_ context.Context, _ any) ([]Write, error) {
			return []Write{
				{Channel: "out", Value: 1},
				{Channel: "out", Value: 2},
			}, nil
		},
	}}

	_, err := Run(context.Background(), registry, lastValueFactories(DefaultInputChannel, "out"), 1)
	if !errors.Is(err, channel.ErrInvalidUpdate) {
		t.Fatalf("expected ErrInvalidUpdate, got %v", err)
	}
}

// interrupting before a process runs pauses the run; resuming the
// same Loop with nil input continues from exactly that point without
// re-running the upstream process or immediately re-triggering the
// same interrupt.
func TestLoopInterruptBeforeAndResume(t *testing.T) {
	var bRuns int
	registry := []Process{
		{
			Name:  "a",
			Reads: []ChannelRef{{Name: DefaultInputChannel, Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "mid", Value: input.(int) + 1}}, nil
			},
		},
		{
			Name:  "b",
			Reads: []ChannelRef{{Name: "mid", Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				bRuns++
				return []Write{{Channel: "out", Value: input.(int) * 100}}, nil
			},
		},
	}

	loop := NewLoop(registry, lastValueFactories(DefaultInputChannel, "mid", "out"),
		WithThreadID("t1"), WithInterruptBefore("b"))

	status, err := loop.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != StatusInterruptBefore {
		t.Fatalf("expected StatusInterruptBefore, got %s", status)
	}
	if bRuns != 0 {
		t.Fatalf("expected b not to have run yet, ran %d times", bRuns)
	}

	status, err = loop.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if status != StatusDone {
		t.Fatalf("expected StatusDone after resume, got %s", status)
	}
	if bRuns != 1 {
		t.Fatalf("expected b to have run exactly once, ran %d times", bRuns)
	}
	if loop.Values()["out"] != 200 { // (1+1) * 100
		t.Fatalf("expected out=200, got %v", loop.Values()["out"])
	}
}

// an unbounded cycle terminates with out_of_steps rather than running
// forever.
func TestLoopOutOfSteps(t *testing.T) {
	registry := []Process{
		{
			Name:  "flipA",
			Reads: []ChannelRef{{Name: "chB", Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "chA", Value: input}}, nil
			},
		},
		{
			Name:  "flipB",
			Reads: []ChannelRef{{Name: "chA", Trigger: true}},
			Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "chB", Value: input}}, nil
			},
		},
	}

	factories := lastValueFactories("chA", "chB")
	_, err := Run(context.Background(), registry, factories, map[string]any{"chA": 1}, WithRecursionLimit(3))
	if !errors.Is(err, ErrOutOfSteps) {
		t.Fatalf("expected ErrOutOfSteps, got %v", err)
	}
}
