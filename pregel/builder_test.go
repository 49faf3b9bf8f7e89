package pregel

import (
	"context"
	"testing"
)

func TestBuilder(t *testing.T) {
	g := NewGraph()
	g.AddNode("double", func(_ context.Context, v any) (any, error) {
		return v.(int) * 2, nil
	})
	g.AddNode("increment", func(_ context.Context, v any) (any, error) {
		return v.(int) + 1, nil
	})
	g.AddEdge("double", "increment")
	g.SetEntryPoint("double")

	registry, factories := g.Build()
	if len(registry) != 2 {
		t.Fatalf("expected 2 processes, got %d", len(registry))
	}

	result, err := Run(context.Background(), registry, factories, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusDone {
		t.Fatalf("expected StatusDone, got %s", result.Status)
	}
	if result.Values[nodeChannel("increment")] != 7 { // (3*2)+1
		t.Fatalf("expected 7, got %v", result.Values[nodeChannel("increment")])
	}
}
