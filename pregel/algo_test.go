package pregel

import (
	"context"
	"errors"
	"testing"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
)

func materialize(t *testing.T, factories map[string]channel.Factory) map[string]channel.Channel {
	t.Helper()
	out := make(map[string]channel.Channel, len(factories))
	for name, f := range factories {
		out[name] = f()
	}
	return out
}

func TestApplyWrites(t *testing.T) {
	t.Run("single write advances version", func(t *testing.T) {
		factories := map[string]channel.Factory{"a": channel.NewLastValue[any]()}
		channels := materialize(t, factories)
		cp := checkpoint.Empty()

		cp, err := ApplyWrites(cp, channels, []Write{{Channel: "a", Value: 1}}, checkpoint.Increment, 1, 25)
		if err != nil {
			t.Fatalf("ApplyWrites: %v", err)
		}
		if cp.ChannelVersions["a"] != 1 {
			t.Fatalf("expected version 1, got %d", cp.ChannelVersions["a"])
		}
		v, err := channels["a"].Get()
		if err != nil || v != 1 {
			t.Fatalf("got %v, %v", v, err)
		}
	})

	t.Run("channel with no writes this step keeps its version", func(t *testing.T) {
		factories := map[string]channel.Factory{"a": channel.NewLastValue[any]()}
		channels := materialize(t, factories)
		cp := checkpoint.Empty()

		cp, err := ApplyWrites(cp, channels, []Write{{Channel: "a", Value: 1}}, checkpoint.Increment, 1, 25)
		if err != nil {
			t.Fatalf("ApplyWrites: %v", err)
		}
		cp, err = ApplyWrites(cp, channels, nil, checkpoint.Increment, 2, 25)
		if err != nil {
			t.Fatalf("ApplyWrites: %v", err)
		}
		if cp.ChannelVersions["a"] != 1 {
			t.Fatalf("expected version to stay at 1, got %d", cp.ChannelVersions["a"])
		}
	})

	t.Run("double write to LastValue is rejected", func(t *testing.T) {
		factories := map[string]channel.Factory{"a": channel.NewLastValue[any]()}
		channels := materialize(t, factories)
		cp := checkpoint.Empty()

		_, err := ApplyWrites(cp, channels, []Write{
			{Channel: "a", Value: 1},
			{Channel: "a", Value: 2},
		}, checkpoint.Increment, 1, 25)
		if !errors.Is(err, channel.ErrInvalidUpdate) {
			t.Fatalf("expected ErrInvalidUpdate, got %v", err)
		}
	})

	t.Run("write to a reserved channel is rejected", func(t *testing.T) {
		factories := map[string]channel.Factory{checkpoint.Error: channel.NewLastValue[any]()}
		channels := materialize(t, factories)
		cp := checkpoint.Empty()

		_, err := ApplyWrites(cp, channels, []Write{{Channel: checkpoint.Error, Value: "boom"}}, checkpoint.Increment, 1, 25)
		if !errors.Is(err, ErrReservedChannelWrite) {
			t.Fatalf("expected ErrReservedChannelWrite, got %v", err)
		}
	})

	t.Run("is_last_step reflects the recursion limit", func(t *testing.T) {
		factories := map[string]channel.Factory{checkpoint.IsLastStep: channel.NewLastValue[bool]()}
		channels := materialize(t, factories)
		cp := checkpoint.Empty()

		cp, err := ApplyWrites(cp, channels, nil, checkpoint.Increment, 26, 25)
		if err != nil {
			t.Fatalf("ApplyWrites: %v", err)
		}
		_ = cp
		v, err := channels[checkpoint.IsLastStep].Get()
		if err != nil || v != true {
			t.Fatalf("expected is_last_step=true, got %v, %v", v, err)
		}
	})
}

func TestWriteOrder(t *testing.T) {
	writes := []Write{{Channel: "b", Value: 1}, {Channel: "a", Value: 2}, {Channel: "b", Value: 3}}
	order := WriteOrder(writes)
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("expected [b a] in first-write order, got %v", order)
	}
}

func identityProcess(name string, readName string, writeName string) Process {
	return Process{
		Name:  name,
		Reads: []ChannelRef{{Name: readName, Trigger: true}},
		Run: func(_ context.Context, input any) ([]Write, error) {
			return []Write{{Channel: writeName, Value: input}}, nil
		},
	}
}

func TestPrepareNextTasks(t *testing.T) {
	t.Run("process triggers only when its channel version advanced", func(t *testing.T) {
		factories := map[string]channel.Factory{
			DefaultInputChannel: channel.NewLastValue[any](),
			"out":               channel.NewLastValue[any](),
		}
		channels := materialize(t, factories)
		registry := []Process{identityProcess("echo", DefaultInputChannel, "out")}

		cp := checkpoint.Empty()
		cp, err := ApplyWrites(cp, channels, []Write{{Channel: DefaultInputChannel, Value: 2}}, checkpoint.Increment, 1, 25)
		if err != nil {
			t.Fatalf("ApplyWrites: %v", err)
		}

		tasks, cp, err := PrepareNextTasks(cp, registry, channels, 0, true)
		if err != nil {
			t.Fatalf("PrepareNextTasks: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Process != "echo" || tasks[0].Input != 2 {
			t.Fatalf("unexpected tasks: %+v", tasks)
		}

		tasks, _, err = PrepareNextTasks(cp, registry, channels, 1, true)
		if err != nil {
			t.Fatalf("PrepareNextTasks: %v", err)
		}
		if len(tasks) != 0 {
			t.Fatalf("expected no re-trigger without a new write, got %+v", tasks)
		}
	})

	t.Run("task IDs are deterministic and distinct per step", func(t *testing.T) {
		factories := map[string]channel.Factory{
			DefaultInputChannel: channel.NewLastValue[any](),
			"out":               channel.NewLastValue[any](),
		}
		channels := materialize(t, factories)
		registry := []Process{identityProcess("echo", DefaultInputChannel, "out")}
		cp := checkpoint.Empty()
		cp, _ = ApplyWrites(cp, channels, []Write{{Channel: DefaultInputChannel, Value: 1}}, checkpoint.Increment, 1, 25)

		tasksA, _, _ := PrepareNextTasks(cp, registry, channels, 0, false)
		tasksB, _, _ := PrepareNextTasks(cp, registry, channels, 0, false)
		if tasksA[0].ID != tasksB[0].ID {
			t.Fatalf("expected deterministic task ID, got %s vs %s", tasksA[0].ID, tasksB[0].ID)
		}

		tasksC, _, _ := PrepareNextTasks(cp, registry, channels, 1, false)
		if tasksA[0].ID == tasksC[0].ID {
			t.Fatalf("expected distinct task ID across steps")
		}
	})
}

func TestPrepareSingleTask(t *testing.T) {
	factories := map[string]channel.Factory{
		DefaultInputChannel: channel.NewLastValue[any](),
		"out":               channel.NewLastValue[any](),
	}
	channels := materialize(t, factories)
	registry := []Process{identityProcess("echo", DefaultInputChannel, "out")}
	cp := checkpoint.Empty()
	cp, _ = ApplyWrites(cp, channels, []Write{{Channel: DefaultInputChannel, Value: 5}}, checkpoint.Increment, 1, 25)

	task, err := PrepareSingleTask(cp, registry, channels, 0, []string{"echo"})
	if err != nil {
		t.Fatalf("PrepareSingleTask: %v", err)
	}
	if task.Process != "echo" || task.Input != 5 {
		t.Fatalf("unexpected task: %+v", task)
	}

	if _, err := PrepareSingleTask(cp, registry, channels, 0, []string{"missing"}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
