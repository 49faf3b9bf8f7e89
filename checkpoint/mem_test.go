package checkpoint

import (
	"context"
	"testing"
)

func TestMemCheckpointer(t *testing.T) {
	ctx := context.Background()

	t.Run("get tuple on empty thread returns not found", func(t *testing.T) {
		m := NewMemCheckpointer()
		if _, err := m.GetTuple(ctx, Config{ThreadID: "t1"}); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("put then get tuple returns latest checkpoint", func(t *testing.T) {
		m := NewMemCheckpointer()
		cp := Empty()
		cp.ChannelValues["x"] = 1
		cfg, err := m.Put(ctx, Config{ThreadID: "t1"}, cp, Metadata{Step: 0, Source: SourceInput})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ThreadID != "t1" || cfg.CheckpointID == "" {
			t.Fatalf("expected populated config, got %+v", cfg)
		}

		tuple, err := m.GetTuple(ctx, Config{ThreadID: "t1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tuple.Checkpoint.ChannelValues["x"] != 1 {
			t.Errorf("expected channel value 1, got %v", tuple.Checkpoint.ChannelValues["x"])
		}
		if tuple.Metadata.Step != 0 || tuple.Metadata.Source != SourceInput {
			t.Errorf("unexpected metadata: %+v", tuple.Metadata)
		}
	})

	t.Run("second put chains parent config", func(t *testing.T) {
		m := NewMemCheckpointer()
		first, _ := m.Put(ctx, Config{ThreadID: "t1"}, Empty(), Metadata{Step: 0, Source: SourceInput})
		second, _ := m.Put(ctx, first, Empty(), Metadata{Step: 1, Source: SourceLoop})

		tuple, err := m.GetTuple(ctx, Config{ThreadID: "t1", CheckpointID: second.CheckpointID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tuple.ParentConfig == nil || tuple.ParentConfig.CheckpointID != first.CheckpointID {
			t.Errorf("expected parent config pointing at first checkpoint, got %+v", tuple.ParentConfig)
		}
	})

	t.Run("time travel to a specific checkpoint id", func(t *testing.T) {
		m := NewMemCheckpointer()
		first, _ := m.Put(ctx, Config{ThreadID: "t1"}, Empty(), Metadata{Step: 0, Source: SourceInput})
		_, _ = m.Put(ctx, first, Empty(), Metadata{Step: 1, Source: SourceLoop})

		tuple, err := m.GetTuple(ctx, Config{ThreadID: "t1", CheckpointID: first.CheckpointID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tuple.Metadata.Step != 0 {
			t.Errorf("expected step 0 from time travel, got %d", tuple.Metadata.Step)
		}
	})

	t.Run("put writes is idempotent per task id", func(t *testing.T) {
		m := NewMemCheckpointer()
		cfg, _ := m.Put(ctx, Config{ThreadID: "t1"}, Empty(), Metadata{Step: 0, Source: SourceInput})

		writes := []PendingWrite{{TaskID: "task-a", Channel: "x", Value: 1}}
		if err := m.PutWrites(ctx, cfg, "task-a", writes); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Replaying the same task's writes must not duplicate them.
		if err := m.PutWrites(ctx, cfg, "task-a", writes); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		tuple, err := m.GetTuple(ctx, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tuple.PendingWrites) != 1 {
			t.Errorf("expected exactly 1 pending write after replay, got %d", len(tuple.PendingWrites))
		}
	})

	t.Run("clear pending writes removes them for that checkpoint only", func(t *testing.T) {
		m := NewMemCheckpointer()
		cfg, _ := m.Put(ctx, Config{ThreadID: "t1"}, Empty(), Metadata{Step: 0, Source: SourceInput})
		_ = m.PutWrites(ctx, cfg, "task-a", []PendingWrite{{TaskID: "task-a", Channel: "x", Value: 1}})
		other, _ := m.Put(ctx, cfg, Empty(), Metadata{Step: 1, Source: SourceLoop})
		_ = m.PutWrites(ctx, other, "task-b", []PendingWrite{{TaskID: "task-b", Channel: "x", Value: 2}})

		m.ClearPendingWrites(cfg.ThreadID, cfg.CheckpointID)

		tuple, err := m.GetTuple(ctx, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tuple.PendingWrites) != 0 {
			t.Errorf("expected no pending writes after clear, got %d", len(tuple.PendingWrites))
		}
		otherTuple, err := m.GetTuple(ctx, other)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(otherTuple.PendingWrites) != 1 {
			t.Errorf("expected the other checkpoint to keep its 1 pending write, got %d", len(otherTuple.PendingWrites))
		}
	})

	t.Run("get next version increments", func(t *testing.T) {
		m := NewMemCheckpointer()
		if v := m.GetNextVersion(4); v != 5 {
			t.Errorf("expected 5, got %d", v)
		}
	})
}

func TestCheckpointCopy(t *testing.T) {
	t.Run("deep copies nested versions seen", func(t *testing.T) {
		cp := Empty()
		cp.VersionsSeen["proc-a"] = map[string]int64{"ch": 1}

		out := Copy(cp)
		out.VersionsSeen["proc-a"]["ch"] = 99

		if cp.VersionsSeen["proc-a"]["ch"] != 1 {
			t.Errorf("expected original untouched, got %d", cp.VersionsSeen["proc-a"]["ch"])
		}
	})
}
