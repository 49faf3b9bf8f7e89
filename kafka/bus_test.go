package kafka

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBus(t *testing.T) {
	t.Run("publish then consume preserves FIFO order", func(t *testing.T) {
		bus := NewMemoryBus()
		ctx := context.Background()
		_ = bus.Publish(ctx, "t", []byte("a"))
		_ = bus.Publish(ctx, "t", []byte("b"))

		msgs, err := bus.Consume(ctx, "t", 10, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
			t.Fatalf("unexpected messages: %+v", msgs)
		}
	})

	t.Run("consume respects batchMaxN", func(t *testing.T) {
		bus := NewMemoryBus()
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_ = bus.Publish(ctx, "t", []byte{byte(i)})
		}

		msgs, err := bus.Consume(ctx, "t", 2, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}

		rest, err := bus.Consume(ctx, "t", 10, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if len(rest) != 3 {
			t.Fatalf("expected 3 remaining messages, got %d", len(rest))
		}
	})

	t.Run("consume returns an empty batch after batchMaxWait on an empty topic", func(t *testing.T) {
		bus := NewMemoryBus()
		start := time.Now()
		msgs, err := bus.Consume(context.Background(), "empty", 10, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if len(msgs) != 0 {
			t.Fatalf("expected no messages, got %d", len(msgs))
		}
		if time.Since(start) < 15*time.Millisecond {
			t.Fatalf("expected Consume to wait close to batchMaxWait, returned after %v", time.Since(start))
		}
	})

	t.Run("a publish that arrives during the wait wakes the consumer early", func(t *testing.T) {
		bus := NewMemoryBus()
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = bus.Publish(context.Background(), "t", []byte("late"))
		}()

		start := time.Now()
		msgs, err := bus.Consume(context.Background(), "t", 10, time.Second)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if len(msgs) != 1 || string(msgs[0].Payload) != "late" {
			t.Fatalf("unexpected messages: %+v", msgs)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Fatalf("expected Consume to return promptly once a message arrived, took %v", time.Since(start))
		}
	})

	t.Run("consume returns ctx.Err on cancellation", func(t *testing.T) {
		bus := NewMemoryBus()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := bus.Consume(ctx, "t", 10, time.Second)
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
