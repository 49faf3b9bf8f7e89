package pregel

import (
	"context"
	"sort"
	"time"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
	"github.com/pregel-run/pregel-go/emit"
)

// backpressureThreshold is the checkpointer write latency past which a
// Put/PutWrites call counts as a backpressure event rather than
// ordinary write latency.
const backpressureThreshold = 250 * time.Millisecond

// Status is the terminal or in-progress state of a Loop.
type Status string

const (
	StatusPending         Status = "pending"
	StatusDone            Status = "done"
	StatusInterruptBefore Status = "interrupt_before"
	StatusInterruptAfter  Status = "interrupt_after"
	StatusOutOfSteps      Status = "out_of_steps"
	StatusError           Status = "error"
)

// DefaultInputChannel is the channel caller input is written to when
// Run is called with a value that is not itself a map[string]any of
// channel name to value.
const DefaultInputChannel = "input"

// Loop drives the local step loop: input absorption, superstep
// execution via Executor, channel write application via ApplyWrites,
// interrupt checks, and checkpoint persistence. It owns the current
// checkpoint for the duration of a run and the channels materialized
// from it.
type Loop struct {
	registry []Process
	executor *Executor
	manager  *ChannelsManager
	config   Config

	cfg checkpoint.Config
	cp  checkpoint.Checkpoint

	step           int
	inputConsumed  bool
	lastInterrupt  string
	preparedTasks  []Task
	recordedWrites map[string][]Write
	values         map[string]any
	stepStart      time.Time
}

// NewLoop returns a Loop for registry's processes, reading/writing
// through channels (merged with default factories for the reserved
// error and is_last_step channels), configured by opts.
func NewLoop(registry []Process, channels map[string]channel.Factory, opts ...Option) *Loop {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Loop{
		registry:       registry,
		executor:       NewExecutor(registry),
		manager:        NewChannelsManager(WithReservedChannels(channels)),
		config:         cfg,
		cfg:            checkpoint.Config{ThreadID: cfg.ThreadID},
		recordedWrites: map[string][]Write{},
	}
}

func (l *Loop) versionGen(prev int64) int64 {
	return l.config.Checkpointer.GetNextVersion(prev)
}

// Run absorbs input (or resumes past a prior interrupt if input is
// nil) and drives supersteps to a terminal Status.
func (l *Loop) Run(ctx context.Context, input any) (Status, error) {
	tuple, err := l.config.Checkpointer.GetTuple(ctx, l.cfg)
	switch {
	case err == nil:
		l.cp = tuple.Checkpoint
		l.cfg = tuple.Config
		l.step = tuple.Metadata.Step
		for _, w := range tuple.PendingWrites {
			l.recordedWrites[w.TaskID] = append(l.recordedWrites[w.TaskID], Write{Channel: w.Channel, Value: w.Value})
		}
	case err == checkpoint.ErrNotFound:
		l.cp = checkpoint.Empty()
	default:
		return StatusError, err
	}

	if err := l.manager.Enter(l.cp); err != nil {
		return StatusError, err
	}
	defer func() { _ = l.manager.Exit() }()

	status, err := l.drive(ctx, input)
	l.values = l.manager.Checkpoint()
	if err != nil {
		return status, err
	}
	return status, nil
}

// Values returns the channel values as of the most recent Run call.
// Valid after Run returns, including after the manager has been torn
// down.
func (l *Loop) Values() map[string]any {
	return l.values
}

func (l *Loop) drive(ctx context.Context, input any) (Status, error) {
	for {
		if !l.inputConsumed {
			if err := l.first(ctx, input); err != nil {
				return StatusError, err
			}
			continue
		}

		if len(l.preparedTasks) > 0 && l.allRecorded(l.preparedTasks) {
			if err := l.applyLoopWrites(ctx); err != nil {
				return StatusError, err
			}
			if l.shouldInterrupt(l.config.InterruptAfter, l.preparedTasks) {
				l.preparedTasks = nil
				return StatusInterruptAfter, nil
			}
			l.preparedTasks = nil
		}

		if l.step > l.config.RecursionLimit {
			return StatusOutOfSteps, ErrOutOfSteps
		}

		tasks, cp, err := PrepareNextTasks(l.cp, l.registry, l.manager.Channels(), l.step, true)
		if err != nil {
			return StatusError, err
		}
		l.cp = cp
		l.config.Metrics.SetQueueDepth(len(tasks))
		if len(tasks) == 0 {
			return StatusDone, nil
		}

		if l.shouldInterrupt(l.config.InterruptBefore, tasks) {
			return StatusInterruptBefore, nil
		}

		l.preparedTasks = tasks
		l.stepStart = time.Now()
		if err := l.executeTasks(ctx); err != nil {
			l.config.Metrics.RecordStepLatency(l.cfg.ThreadID, time.Since(l.stepStart), "error")
			return StatusError, err
		}
	}
}

// first handles step 1 of the tick: either map caller input into
// channel writes and checkpoint with source=input, or, if input is
// nil, mark every channel's current version as seen by the INTERRUPT
// sentinel so a resumed run's interrupt_before guard does not
// immediately re-trigger.
func (l *Loop) first(ctx context.Context, input any) error {
	if input != nil {
		writes := InputWrites(input)
		cp, err := ApplyWrites(l.cp, l.manager.Channels(), writes, l.versionGen, l.step+1, l.config.RecursionLimit)
		if err != nil {
			l.config.Metrics.IncrementApplyConflicts(l.cfg.ThreadID, classifyApplyError(err))
			return err
		}
		l.cp = cp
		if err := l.putCheckpoint(ctx, checkpoint.SourceInput, WriteOrder(writes)); err != nil {
			return err
		}
		l.emit(checkpoint.SourceInput, nil)
	} else {
		cp := checkpoint.Copy(l.cp)
		if cp.VersionsSeen[checkpoint.Interrupt] == nil {
			cp.VersionsSeen[checkpoint.Interrupt] = map[string]int64{}
		}
		for name, version := range cp.ChannelVersions {
			cp.VersionsSeen[checkpoint.Interrupt][name] = version
		}
		l.cp = cp
	}
	l.inputConsumed = true
	return nil
}

// applyLoopWrites folds every prepared task's recorded writes into
// channels in task order, emits the values/updates streams, clears
// the pending writes now that they are durable in the checkpoint, and
// persists a new checkpoint with source=loop.
func (l *Loop) applyLoopWrites(ctx context.Context) error {
	var writes []Write
	for _, task := range l.preparedTasks {
		writes = append(writes, l.recordedWrites[task.ID]...)
	}

	l.step++
	cp, err := ApplyWrites(l.cp, l.manager.Channels(), writes, l.versionGen, l.step+1, l.config.RecursionLimit)
	if err != nil {
		l.config.Metrics.IncrementApplyConflicts(l.cfg.ThreadID, classifyApplyError(err))
		l.config.Metrics.RecordStepLatency(l.cfg.ThreadID, time.Since(l.stepStart), "error")
		return err
	}
	l.cp = cp
	l.config.Metrics.RecordStepLatency(l.cfg.ThreadID, time.Since(l.stepStart), "success")

	l.emit(checkpoint.SourceLoop, writes)

	if mem, ok := l.config.Checkpointer.(*checkpoint.MemCheckpointer); ok {
		mem.ClearPendingWrites(l.cfg.ThreadID, l.cfg.CheckpointID)
	}
	for _, task := range l.preparedTasks {
		delete(l.recordedWrites, task.ID)
	}

	return l.putCheckpoint(ctx, checkpoint.SourceLoop, WriteOrder(writes))
}

// executeTasks reconciles already-recorded writes from a resumed run
// (a worker that executed but never notified completion) and runs
// only the remaining tasks through the Executor, then persists each
// task's writes with PutWrites once every task of the step has returned.
func (l *Loop) executeTasks(ctx context.Context) error {
	var toRun []Task
	for _, task := range l.preparedTasks {
		if _, already := l.recordedWrites[task.ID]; !already {
			toRun = append(toRun, task)
		}
	}
	if len(toRun) == 0 {
		return nil
	}

	l.config.Metrics.SetTasksInflight(len(toRun))
	results, err := l.executor.Run(ctx, toRun, l.config.StepTimeout)
	l.config.Metrics.SetTasksInflight(0)
	if err != nil {
		return err
	}

	for taskID, writes := range results {
		l.recordedWrites[taskID] = writes
		putStart := time.Now()
		err := l.config.Checkpointer.PutWrites(ctx, l.cfg, taskID, toPendingWrites(taskID, writes))
		if elapsed := time.Since(putStart); elapsed > backpressureThreshold {
			l.config.Metrics.IncrementBackpressure(l.cfg.ThreadID, "put_writes")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// shouldInterrupt triggers when any task's process name is in policy
// AND that process was not itself the cause of the previous interrupt
// — guarding against an immediate re-interrupt on resume. The guard
// consults versions_seen[INTERRUPT] rather than just lastInterrupt so
// a Loop rebuilt from a restored checkpoint (a real process restart,
// or a distributed worker) still honors a resume that happened before
// this Loop existed.
func (l *Loop) shouldInterrupt(policy map[string]bool, tasks []Task) bool {
	for _, task := range tasks {
		if policy[task.Process] && !l.interruptSeen(task.Process) {
			l.lastInterrupt = task.Process
			return true
		}
	}
	return false
}

// interruptSeen reports whether process's trigger channels have
// already been marked resumed-past at their current versions, either
// in this Loop's memory or durably in the checkpoint.
func (l *Loop) interruptSeen(processName string) bool {
	if processName == l.lastInterrupt {
		return true
	}
	seen := l.cp.VersionsSeen[checkpoint.Interrupt]
	if seen == nil {
		return false
	}
	for i := range l.registry {
		proc := l.registry[i]
		if proc.Name != processName {
			continue
		}
		for _, ref := range proc.triggerRefs() {
			if seen[ref.Name] < l.cp.ChannelVersions[ref.Name] {
				return false
			}
		}
		return true
	}
	return false
}

func (l *Loop) allRecorded(tasks []Task) bool {
	for _, task := range tasks {
		if _, ok := l.recordedWrites[task.ID]; !ok {
			return false
		}
	}
	return true
}

func (l *Loop) putCheckpoint(ctx context.Context, source string, writes []string) error {
	putStart := time.Now()
	cfg, err := l.config.Checkpointer.Put(ctx, l.cfg, checkpoint.Checkpoint{
		ChannelValues:   l.manager.Checkpoint(),
		ChannelVersions: l.cp.ChannelVersions,
		VersionsSeen:    l.cp.VersionsSeen,
	}, checkpoint.Metadata{Step: l.step, Source: source, Writes: writes})
	if elapsed := time.Since(putStart); elapsed > backpressureThreshold {
		l.config.Metrics.IncrementBackpressure(l.cfg.ThreadID, "put")
	}
	if err != nil {
		return err
	}
	l.cfg = cfg
	l.cp.ID = cfg.CheckpointID
	return nil
}

func (l *Loop) emit(source string, writes []Write) {
	if l.config.StreamModes[StreamValues] {
		l.config.Emitter.Emit(emit.Event{
			ThreadID: l.cfg.ThreadID, Step: l.step, Msg: "values",
			Meta: map[string]interface{}{"channel_values": l.manager.Checkpoint()},
		})
	}
	if l.config.StreamModes[StreamUpdates] && writes != nil {
		l.config.Emitter.Emit(emit.Event{
			ThreadID: l.cfg.ThreadID, Step: l.step, Msg: "updates",
			Meta: map[string]interface{}{"channels": WriteOrder(writes)},
		})
	}
	if l.config.StreamModes[StreamDebug] {
		l.config.Emitter.Emit(emit.Event{
			ThreadID: l.cfg.ThreadID, Step: l.step, Msg: "debug",
			Meta: map[string]interface{}{"payload": DebugPayload{
				Config:   l.cfg,
				Metadata: checkpoint.Metadata{Step: l.step, Source: source, Writes: writes},
				Tasks:    l.preparedTasks,
			}},
		})
	}
}

// InputWrites maps a caller-supplied run input into channel writes: a
// map[string]any becomes one write per key (sorted for determinism,
// since Go map iteration order is not), any other value becomes a
// single write to DefaultInputChannel.
func InputWrites(input any) []Write {
	if m, ok := input.(map[string]any); ok {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		writes := make([]Write, 0, len(names))
		for _, name := range names {
			writes = append(writes, Write{Channel: name, Value: m[name]})
		}
		return writes
	}
	return []Write{{Channel: DefaultInputChannel, Value: input}}
}

func toPendingWrites(taskID string, writes []Write) []checkpoint.PendingWrite {
	out := make([]checkpoint.PendingWrite, len(writes))
	for i, w := range writes {
		out[i] = checkpoint.PendingWrite{TaskID: taskID, Channel: w.Channel, Value: w.Value}
	}
	return out
}
