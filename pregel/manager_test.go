package pregel

import (
	"errors"
	"testing"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
)

func TestChannelsManagerEnterExit(t *testing.T) {
	t.Run("enter restores channel state from the checkpoint", func(t *testing.T) {
		factories := map[string]channel.Factory{"a": channel.NewLastValue[any]()}
		mgr := NewChannelsManager(factories)
		cp := checkpoint.Empty()
		cp.ChannelValues["a"] = 7

		if err := mgr.Enter(cp); err != nil {
			t.Fatalf("Enter: %v", err)
		}
		v, err := mgr.Channels()["a"].Get()
		if err != nil || v != 7 {
			t.Fatalf("expected restored value 7, got %v, %v", v, err)
		}
	})

	t.Run("exit acquires and releases scoped resources in reverse order", func(t *testing.T) {
		var log []string
		acquire := func(name string) func() (any, func() error, error) {
			return func() (any, func() error, error) {
				log = append(log, "enter:"+name)
				return name, func() error { log = append(log, "exit:"+name); return nil }, nil
			}
		}
		factories := map[string]channel.Factory{
			"a": channel.NewContextManager[any](acquire("a")),
			"b": channel.NewContextManager[any](acquire("b")),
		}
		mgr := NewChannelsManager(factories)

		if err := mgr.Enter(checkpoint.Empty()); err != nil {
			t.Fatalf("Enter: %v", err)
		}
		if err := mgr.Exit(); err != nil {
			t.Fatalf("Exit: %v", err)
		}

		if len(log) != 4 || log[0] != "enter:a" || log[1] != "enter:b" || log[2] != "exit:b" || log[3] != "exit:a" {
			t.Fatalf("unexpected enter/exit order: %v", log)
		}
	})

	t.Run("exit still releases every channel when one release fails", func(t *testing.T) {
		released := map[string]bool{}
		failing := channel.NewContextManager[any](func() (any, func() error, error) {
			return nil, func() error { return errors.New("release failed") }, nil
		})
		ok := channel.NewContextManager[any](func() (any, func() error, error) {
			return nil, func() error { released["ok"] = true; return nil }, nil
		})
		mgr := NewChannelsManager(map[string]channel.Factory{"failing": failing, "ok": ok})

		if err := mgr.Enter(checkpoint.Empty()); err != nil {
			t.Fatalf("Enter: %v", err)
		}
		err := mgr.Exit()
		if err == nil {
			t.Fatal("expected Exit to surface the release error")
		}
		if !released["ok"] {
			t.Fatal("expected the sibling channel to still be released")
		}
	})

	t.Run("checkpoint snapshots every live channel", func(t *testing.T) {
		factories := map[string]channel.Factory{
			"a": channel.NewLastValue[any](),
			"b": channel.NewLastValue[any](),
		}
		mgr := NewChannelsManager(factories)
		if err := mgr.Enter(checkpoint.Empty()); err != nil {
			t.Fatalf("Enter: %v", err)
		}
		if err := mgr.Channels()["a"].Update([]any{1}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		snap := mgr.Checkpoint()
		if snap["a"] != 1 {
			t.Fatalf("expected snapshot[a]=1, got %v", snap["a"])
		}
		if snap["b"] != nil {
			t.Fatalf("expected unset channel b to snapshot as nil, got %v", snap["b"])
		}
	})
}
