package pregel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecutorRun(t *testing.T) {
	t.Run("runs every task and collects its writes", func(t *testing.T) {
		registry := []Process{
			{Name: "double", Run: func(_ context.Context, input any) ([]Write, error) {
				return []Write{{Channel: "out", Value: input.(int) * 2}}, nil
			}},
		}
		exec := NewExecutor(registry)
		tasks := []Task{
			{ID: "t1", Process: "double", Input: 3},
			{ID: "t2", Process: "double", Input: 5},
		}

		results, err := exec.Run(context.Background(), tasks, 0)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if results["t1"][0].Value != 6 || results["t2"][0].Value != 10 {
			t.Fatalf("unexpected results: %+v", results)
		}
	})

	t.Run("unknown process yields a task-not-found error", func(t *testing.T) {
		exec := NewExecutor(nil)
		_, err := exec.Run(context.Background(), []Task{{ID: "t1", Process: "missing"}}, 0)
		var pregelErr *Error
		if !errors.As(err, &pregelErr) || pregelErr.Code != "TaskNotFound" {
			t.Fatalf("expected TaskNotFound, got %v", err)
		}
	})

	t.Run("a failing task cancels its siblings and surfaces the error", func(t *testing.T) {
		boom := errors.New("boom")
		var cancelled bool
		registry := []Process{
			{Name: "fail", Run: func(_ context.Context, _ any) ([]Write, error) {
				return nil, boom
			}},
			{Name: "slow", Run: func(ctx context.Context, _ any) ([]Write, error) {
				select {
				case <-ctx.Done():
					cancelled = true
					return nil, ctx.Err()
				case <-time.After(2 * time.Second):
					return nil, nil
				}
			}},
		}
		exec := NewExecutor(registry)
		tasks := []Task{
			{ID: "t1", Process: "fail"},
			{ID: "t2", Process: "slow"},
		}

		_, err := exec.Run(context.Background(), tasks, 0)
		if !errors.Is(err, boom) {
			t.Fatalf("expected the original failure, got %v", err)
		}
		if !cancelled {
			t.Fatal("expected the sibling task's context to be cancelled")
		}
	})

	t.Run("step timeout cancels in-flight tasks", func(t *testing.T) {
		registry := []Process{
			{Name: "slow", Run: func(ctx context.Context, _ any) ([]Write, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}},
		}
		exec := NewExecutor(registry)
		tasks := []Task{{ID: "t1", Process: "slow", Step: 3}}

		_, err := exec.Run(context.Background(), tasks, 10*time.Millisecond)
		var timeoutErr *StepTimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("expected StepTimeoutError, got %v", err)
		}
	})
}
