package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
	"github.com/pregel-run/pregel-go/pregel"
)

// Orchestrator is the C8 worker: it runs no task code itself. It owns
// checkpointing and the parts of the step loop safe to run anywhere —
// folding writes reported by Worker processes, deciding the next
// superstep's tasks — and dispatches those tasks to whichever Worker
// picks them up next, tracking per-thread completions so it knows
// when a superstep is done.
type Orchestrator struct {
	Bus            Bus
	Topics         Topics
	Registry       []pregel.Process
	Channels       map[string]channel.Factory
	Checkpointer   checkpoint.Checkpointer
	RecursionLimit int
	BatchMaxN      int
	BatchMaxWait   time.Duration
	Metrics        *pregel.Metrics

	mu       sync.Mutex
	inflight map[string]map[string]bool
	finally  map[string]*MessageToExecutor
}

// Submit starts (or restarts, after an external resume) a thread's
// run out of band, without going through the bus. It is a thin
// convenience wrapper over the same start path a caller reaches by
// publishing MessageToOrchestrator{Input, Config} to the orchestrator
// topic and letting Run's handle loop pick it up.
func (o *Orchestrator) Submit(ctx context.Context, threadID string, input any) error {
	return o.start(ctx, threadID, input, nil)
}

func (o *Orchestrator) start(ctx context.Context, threadID string, input any, finally *MessageToExecutor) error {
	cfg := checkpoint.Config{ThreadID: threadID}
	cp := checkpoint.Empty()

	tuple, err := o.Checkpointer.GetTuple(ctx, cfg)
	switch {
	case err == nil:
		cp = tuple.Checkpoint
		cfg = tuple.Config
	case errors.Is(err, checkpoint.ErrNotFound):
		// fresh thread
	default:
		return err
	}

	mgr := pregel.NewChannelsManager(pregel.WithReservedChannels(o.Channels))
	if err := mgr.Enter(cp); err != nil {
		return err
	}
	defer mgr.Exit()

	writes := pregel.InputWrites(input)
	cp, err = pregel.ApplyWrites(cp, mgr.Channels(), writes, o.Checkpointer.GetNextVersion, 1, o.RecursionLimit)
	if err != nil {
		o.Metrics.IncrementApplyConflicts(threadID, classifyApplyErrorKind(err))
		return err
	}

	newCfg, err := o.Checkpointer.Put(ctx, cfg, checkpoint.Checkpoint{
		ChannelValues:   mgr.Checkpoint(),
		ChannelVersions: cp.ChannelVersions,
		VersionsSeen:    cp.VersionsSeen,
	}, checkpoint.Metadata{Step: 0, Source: checkpoint.SourceInput})
	if err != nil {
		return err
	}
	cp.ID = newCfg.CheckpointID

	if finally != nil {
		o.setFinally(threadID, finally)
	}
	return o.dispatchNext(ctx, newCfg, cp, mgr.Channels(), 0)
}

// Run consumes completion reports until ctx is cancelled, advancing
// whichever thread just finished its current superstep.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := o.Bus.Consume(ctx, o.Topics.Orchestrator, o.BatchMaxN, o.BatchMaxWait)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			var in MessageToOrchestrator
			if err := json.Unmarshal(m.Payload, &in); err != nil {
				return fmt.Errorf("kafka: decode orchestrator message: %w", err)
			}
			if err := o.handle(ctx, in); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, in MessageToOrchestrator) error {
	if in.Input != nil {
		return o.start(ctx, in.Config.ThreadID, in.Input, in.Finally)
	}
	if in.Error != "" {
		return o.fail(ctx, in.Config, in.Error)
	}
	if !o.complete(in.Config.ThreadID, in.TaskID) {
		return nil // other tasks of this superstep are still outstanding
	}
	return o.advance(ctx, in.Config)
}

// fail records the reported failure under the ERROR channel and ends
// the thread's run with status error, matching the progress
// invariant: either every pending write is eventually observed and
// the run advances, or a task surfaces an error and the run
// terminates.
func (o *Orchestrator) fail(ctx context.Context, cfg checkpoint.Config, reason string) error {
	tuple, err := o.Checkpointer.GetTuple(ctx, cfg)
	if err != nil {
		return err
	}

	mgr := pregel.NewChannelsManager(pregel.WithReservedChannels(o.Channels))
	if err := mgr.Enter(tuple.Checkpoint); err != nil {
		return err
	}
	defer mgr.Exit()

	if err := pregel.RecordError(mgr.Channels(), reason); err != nil {
		return err
	}
	if _, err := o.Checkpointer.Put(ctx, cfg, checkpoint.Checkpoint{
		ChannelValues:   mgr.Checkpoint(),
		ChannelVersions: tuple.Checkpoint.ChannelVersions,
		VersionsSeen:    tuple.Checkpoint.VersionsSeen,
	}, checkpoint.Metadata{Step: tuple.Metadata.Step, Source: checkpoint.SourceUpdate}); err != nil {
		return err
	}

	o.clearThread(cfg.ThreadID)
	if err := o.emitFinally(ctx, cfg.ThreadID); err != nil {
		return err
	}
	return fmt.Errorf("kafka: thread %s terminated with status error: %s", cfg.ThreadID, reason)
}

// advance folds every pending write recorded against cfg's checkpoint,
// persists the result, and dispatches the next superstep's tasks —
// the distributed equivalent of Loop.applyLoopWrites followed by
// PrepareNextTasks.
func (o *Orchestrator) advance(ctx context.Context, cfg checkpoint.Config) error {
	tuple, err := o.Checkpointer.GetTuple(ctx, cfg)
	if err != nil {
		return err
	}

	mgr := pregel.NewChannelsManager(pregel.WithReservedChannels(o.Channels))
	if err := mgr.Enter(tuple.Checkpoint); err != nil {
		return err
	}
	defer mgr.Exit()

	// dispatchNext prepared this step's tasks after the checkpoint was
	// persisted, so the versions_seen advance made for them is not in it;
	// replay that preparation so the processes that ran do not re-fire.
	_, seenCp, err := pregel.PrepareNextTasks(tuple.Checkpoint, o.Registry, mgr.Channels(), tuple.Metadata.Step, true)
	if err != nil {
		return err
	}

	writes := make([]pregel.Write, len(tuple.PendingWrites))
	for i, w := range tuple.PendingWrites {
		writes[i] = pregel.Write{Channel: w.Channel, Value: w.Value}
	}

	step := tuple.Metadata.Step + 1
	start := time.Now()
	cp, err := pregel.ApplyWrites(seenCp, mgr.Channels(), writes, o.Checkpointer.GetNextVersion, step+1, o.RecursionLimit)
	o.Metrics.RecordStepLatency(cfg.ThreadID, time.Since(start), statusOf(err))
	if err != nil {
		o.Metrics.IncrementApplyConflicts(cfg.ThreadID, classifyApplyErrorKind(err))
		return err
	}

	newCfg, err := o.Checkpointer.Put(ctx, cfg, checkpoint.Checkpoint{
		ChannelValues:   mgr.Checkpoint(),
		ChannelVersions: cp.ChannelVersions,
		VersionsSeen:    cp.VersionsSeen,
	}, checkpoint.Metadata{Step: step, Source: checkpoint.SourceLoop})
	if err != nil {
		return err
	}
	cp.ID = newCfg.CheckpointID

	return o.dispatchNext(ctx, newCfg, cp, mgr.Channels(), step)
}

// dispatchNext prepares the next superstep's tasks and dispatches
// them, or ends the run: a fixed point (no tasks) ends with done; a
// step count past RecursionLimit ends with out_of_steps instead of
// dispatching a superstep the run is not permitted to take.
func (o *Orchestrator) dispatchNext(ctx context.Context, cfg checkpoint.Config, cp checkpoint.Checkpoint, channels map[string]channel.Channel, step int) error {
	if step > o.RecursionLimit {
		o.clearThread(cfg.ThreadID)
		return o.emitFinally(ctx, cfg.ThreadID)
	}

	tasks, _, err := pregel.PrepareNextTasks(cp, o.Registry, channels, step, true)
	if err != nil {
		return err
	}
	o.Metrics.SetQueueDepth(len(tasks))
	if len(tasks) == 0 {
		o.clearThread(cfg.ThreadID)
		return o.emitFinally(ctx, cfg.ThreadID) // this thread's run has reached a fixed point
	}

	o.markInflight(cfg.ThreadID, tasks)
	for _, task := range tasks {
		payload, err := json.Marshal(MessageToExecutor{Config: cfg, TaskID: task.ID, Path: task.Path, Step: task.Step})
		if err != nil {
			return err
		}
		if err := o.Bus.Publish(ctx, o.Topics.Executor, payload); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) markInflight(threadID string, tasks []pregel.Task) {
	o.mu.Lock()
	if o.inflight == nil {
		o.inflight = map[string]map[string]bool{}
	}
	set := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		set[t.ID] = true
	}
	o.inflight[threadID] = set
	total := o.totalInflightLocked()
	o.mu.Unlock()
	o.Metrics.SetTasksInflight(total)
}

// complete marks taskID done for threadID and reports whether every
// task of the thread's current superstep has now reported in.
func (o *Orchestrator) complete(threadID, taskID string) bool {
	o.mu.Lock()
	set := o.inflight[threadID]
	if set == nil {
		o.mu.Unlock()
		return false
	}
	delete(set, taskID)
	done := len(set) == 0
	total := o.totalInflightLocked()
	o.mu.Unlock()
	o.Metrics.SetTasksInflight(total)
	return done
}

func (o *Orchestrator) clearThread(threadID string) {
	o.mu.Lock()
	delete(o.inflight, threadID)
	total := o.totalInflightLocked()
	o.mu.Unlock()
	o.Metrics.SetTasksInflight(total)
}

// totalInflightLocked sums in-flight tasks across every thread; mu
// must be held.
func (o *Orchestrator) totalInflightLocked() int {
	total := 0
	for _, set := range o.inflight {
		total += len(set)
	}
	return total
}

func (o *Orchestrator) setFinally(threadID string, msg *MessageToExecutor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finally == nil {
		o.finally = map[string]*MessageToExecutor{}
	}
	o.finally[threadID] = msg
}

// emitFinally publishes threadID's stored finally message, if any, to
// the executor topic — the side-effect message a caller may have
// attached to the run's start, delivered once the run reaches a
// terminal status.
func (o *Orchestrator) emitFinally(ctx context.Context, threadID string) error {
	o.mu.Lock()
	msg := o.finally[threadID]
	delete(o.finally, threadID)
	o.mu.Unlock()

	if msg == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return o.Bus.Publish(ctx, o.Topics.Executor, payload)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func classifyApplyErrorKind(err error) string {
	switch {
	case errors.Is(err, pregel.ErrReservedChannelWrite):
		return "reserved_channel"
	case errors.Is(err, pregel.ErrInvalidUpdate):
		return "invalid_update"
	default:
		return "unknown_channel"
	}
}
