package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
	"github.com/pregel-run/pregel-go/pregel"
)

// Worker is the C9 distributed Executor: it runs exactly one task per
// MessageToExecutor, reconstructing it from the checkpoint named in
// the message via pregel.PrepareSingleTask rather than recomputing a
// whole superstep's task list, persists its writes, and reports
// completion back to the Orchestrator.
type Worker struct {
	Bus          Bus
	Topics       Topics
	Registry     []pregel.Process
	Channels     map[string]channel.Factory
	Checkpointer checkpoint.Checkpointer
	BatchMaxN    int
	BatchMaxWait time.Duration
	Metrics      *pregel.Metrics
}

// backpressureThreshold mirrors pregel's Loop: a PutWrites/Put call
// slower than this counts as a backpressure event rather than
// ordinary write latency.
const backpressureThreshold = 250 * time.Millisecond

// Run consumes task assignments until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	exec := pregel.NewExecutor(w.Registry)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := w.Bus.Consume(ctx, w.Topics.Executor, w.BatchMaxN, w.BatchMaxWait)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			var in MessageToExecutor
			if err := json.Unmarshal(m.Payload, &in); err != nil {
				return fmt.Errorf("kafka: decode executor message: %w", err)
			}
			if err := w.handle(ctx, exec, in); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, exec *pregel.Executor, in MessageToExecutor) error {
	tuple, err := w.Checkpointer.GetTuple(ctx, in.Config)
	if err != nil {
		return err
	}

	// A worker that already ran this task but died before notifying
	// the orchestrator has its writes on file; re-running would
	// violate at-most-once apply, so just re-report completion.
	for _, pw := range tuple.PendingWrites {
		if pw.TaskID == in.TaskID {
			return w.notify(ctx, in.Config, in.TaskID, "")
		}
	}

	mgr := pregel.NewChannelsManager(pregel.WithReservedChannels(w.Channels))
	if err := mgr.Enter(tuple.Checkpoint); err != nil {
		return err
	}
	defer mgr.Exit()

	task, err := pregel.PrepareSingleTask(tuple.Checkpoint, w.Registry, mgr.Channels(), in.Step, in.Path)
	if err != nil {
		if errors.Is(err, pregel.ErrTaskNotFound) {
			return w.recordTaskNotFound(ctx, in, mgr, tuple.Checkpoint)
		}
		return err
	}

	start := time.Now()
	results, err := exec.Run(ctx, []pregel.Task{task}, 0)
	w.Metrics.RecordStepLatency(in.Config.ThreadID, time.Since(start), statusOf(err))
	if err != nil {
		return w.notify(ctx, in.Config, in.TaskID, err.Error())
	}

	writes := results[task.ID]
	pending := make([]checkpoint.PendingWrite, len(writes))
	for i, wr := range writes {
		pending[i] = checkpoint.PendingWrite{TaskID: in.TaskID, Channel: wr.Channel, Value: wr.Value}
	}
	putStart := time.Now()
	err = w.Checkpointer.PutWrites(ctx, in.Config, in.TaskID, pending)
	if elapsed := time.Since(putStart); elapsed > backpressureThreshold {
		w.Metrics.IncrementBackpressure(in.Config.ThreadID, "put_writes")
	}
	if err != nil {
		return err
	}
	return w.notify(ctx, in.Config, in.TaskID, "")
}

// recordTaskNotFound persists (ERROR, TaskNotFound) directly to the
// materialized channels and notifies the orchestrator with a non-empty
// error, so the run terminates with status error instead of the
// worker silently reporting success for a task that no longer
// resolves.
func (w *Worker) recordTaskNotFound(ctx context.Context, in MessageToExecutor, mgr *pregel.ChannelsManager, cp checkpoint.Checkpoint) error {
	if err := pregel.RecordError(mgr.Channels(), "TaskNotFound"); err != nil {
		return err
	}
	if _, err := w.Checkpointer.Put(ctx, in.Config, checkpoint.Checkpoint{
		ChannelValues:   mgr.Checkpoint(),
		ChannelVersions: cp.ChannelVersions,
		VersionsSeen:    cp.VersionsSeen,
	}, checkpoint.Metadata{Step: in.Step, Source: checkpoint.SourceUpdate}); err != nil {
		return err
	}
	return w.notify(ctx, in.Config, in.TaskID, "TaskNotFound")
}

func (w *Worker) notify(ctx context.Context, cfg checkpoint.Config, taskID, errMsg string) error {
	payload, err := json.Marshal(MessageToOrchestrator{Config: cfg, TaskID: taskID, Error: errMsg})
	if err != nil {
		return err
	}
	return w.Bus.Publish(ctx, w.Topics.Orchestrator, payload)
}
