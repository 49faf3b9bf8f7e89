package pregel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pregel-run/pregel-go/channel"
	"github.com/pregel-run/pregel-go/checkpoint"
)

// VersionGen advances a channel's version after a write. The default
// is monotone integer increment; a Checkpointer may supply a
// time-based generator instead for wall-clock-ordered versions across
// distributed workers.
type VersionGen func(prev int64) int64

// ApplyWrites groups writes by channel, rejects writes to reserved
// channels, and applies them to the live channels in cp's scope.
// Channels with no writes this step are still notified with an empty
// update so step-scoped variants (Inbox) observe the boundary; their
// version is not advanced. is_last_step is set to whether nextStep
// exceeds recursionLimit. The checkpoint passed in is mutated and
// returned.
func ApplyWrites(
	cp checkpoint.Checkpoint,
	channels map[string]channel.Channel,
	writes []Write,
	versionGen VersionGen,
	nextStep, recursionLimit int,
) (checkpoint.Checkpoint, error) {
	grouped := make(map[string][]any)
	order := make([]string, 0, len(writes))
	seen := make(map[string]bool)

	for _, w := range writes {
		if w.Channel == checkpoint.Interrupt || w.Channel == checkpoint.Error || w.Channel == checkpoint.IsLastStep {
			return cp, fmt.Errorf("%w: %s", ErrReservedChannelWrite, w.Channel)
		}
		if _, ok := channels[w.Channel]; !ok {
			return cp, fmt.Errorf("pregel: write to unknown channel %q", w.Channel)
		}
		grouped[w.Channel] = append(grouped[w.Channel], w.Value)
		if !seen[w.Channel] {
			seen[w.Channel] = true
			order = append(order, w.Channel)
		}
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ch := channels[name]
		values := grouped[name]
		if err := ch.Update(values); err != nil {
			return cp, fmt.Errorf("pregel: apply write to %q: %w", name, err)
		}
		if len(values) > 0 {
			prev := cp.ChannelVersions[name]
			cp.ChannelVersions[name] = versionGen(prev)
		}
	}

	isLast := nextStep > recursionLimit
	if lastCh, ok := channels[checkpoint.IsLastStep]; ok {
		if err := lastCh.Update([]any{isLast}); err != nil {
			return cp, fmt.Errorf("pregel: update %s: %w", checkpoint.IsLastStep, err)
		}
		prev := cp.ChannelVersions[checkpoint.IsLastStep]
		cp.ChannelVersions[checkpoint.IsLastStep] = versionGen(prev)
	}

	_ = order // not returned; callers use WriteOrder for Metadata.Writes
	return cp, nil
}

// RecordError writes value directly to the reserved ERROR channel,
// bypassing ApplyWrites' reserved-channel guard — only the system
// itself, on a task failure it cannot recover from, populates this
// channel, never a user process. channels must already be
// materialized, e.g. via WithReservedChannels.
func RecordError(channels map[string]channel.Channel, value any) error {
	ch, ok := channels[checkpoint.Error]
	if !ok {
		return fmt.Errorf("pregel: %s channel not materialized", checkpoint.Error)
	}
	return ch.Update([]any{value})
}

// WriteOrder returns the channel names touched by writes, in first-
// write order — useful for recording Metadata.Writes.
func WriteOrder(writes []Write) []string {
	order := make([]string, 0, len(writes))
	seen := make(map[string]bool)
	for _, w := range writes {
		if !seen[w.Channel] {
			seen[w.Channel] = true
			order = append(order, w.Channel)
		}
	}
	return order
}

// PrepareNextTasks scans the registry in order and returns one Task
// per triggered process whose declared channels are readable. When
// forExecution is true, versions_seen is advanced for the triggering
// channels of every scheduled process so it will not re-fire on the
// same versions; the checkpoint is mutated and returned alongside the
// tasks.
func PrepareNextTasks(
	cp checkpoint.Checkpoint,
	registry []Process,
	channels map[string]channel.Channel,
	step int,
	forExecution bool,
) ([]Task, checkpoint.Checkpoint, error) {
	var tasks []Task

	for _, proc := range registry {
		triggers := proc.triggerRefs()
		triggered := false
		for _, ref := range triggers {
			seen := cp.VersionsSeen[proc.Name][ref.Name]
			if cp.ChannelVersions[ref.Name] > seen {
				triggered = true
				break
			}
		}
		if !triggered {
			continue
		}

		input, skip, err := assembleInput(proc, channels)
		if err != nil {
			return nil, cp, err
		}
		if skip {
			continue
		}

		path := []string{proc.Name}
		task := Task{
			ID:      taskID(cp.ID, step, proc.Name, path),
			Process: proc.Name,
			Input:   input,
			Path:    path,
			Step:    step,
		}
		tasks = append(tasks, task)

		if forExecution {
			if cp.VersionsSeen[proc.Name] == nil {
				cp.VersionsSeen[proc.Name] = map[string]int64{}
			}
			for _, ref := range triggers {
				cp.VersionsSeen[proc.Name][ref.Name] = cp.ChannelVersions[ref.Name]
			}
		}
	}

	return tasks, cp, nil
}

// PrepareSingleTask resolves exactly the task a distributed executor
// worker was told to run, identified by path, against the current
// checkpoint and registry. It does not mutate versions_seen — that
// remains the orchestrator's responsibility when it later applies the
// resulting writes. Returns ErrTaskNotFound if proc is unknown or is
// no longer triggered (the task was already applied or the path is
// stale).
func PrepareSingleTask(
	cp checkpoint.Checkpoint,
	registry []Process,
	channels map[string]channel.Channel,
	step int,
	path []string,
) (Task, error) {
	if len(path) == 0 {
		return Task{}, ErrTaskNotFound
	}
	procName := path[0]

	var proc *Process
	for i := range registry {
		if registry[i].Name == procName {
			proc = &registry[i]
			break
		}
	}
	if proc == nil {
		return Task{}, ErrTaskNotFound
	}

	triggered := false
	for _, ref := range proc.triggerRefs() {
		if cp.ChannelVersions[ref.Name] > cp.VersionsSeen[proc.Name][ref.Name] {
			triggered = true
			break
		}
	}
	if !triggered {
		return Task{}, ErrTaskNotFound
	}

	input, skip, err := assembleInput(*proc, channels)
	if err != nil {
		return Task{}, err
	}
	if skip {
		return Task{}, ErrTaskNotFound
	}

	return Task{
		ID:      taskID(cp.ID, step, proc.Name, path),
		Process: proc.Name,
		Input:   input,
		Path:    path,
		Step:    step,
	}, nil
}

// assembleInput reads proc's declared channels and builds its input
// value. A read of a non-trigger channel that fails with EmptyChannel
// is silently omitted; the same failure on a trigger channel means
// the process is not ready this step (skip=true).
func assembleInput(proc Process, channels map[string]channel.Channel) (any, bool, error) {
	if len(proc.Reads) == 1 && proc.Reads[0].Key == "" {
		ref := proc.Reads[0]
		ch, ok := channels[ref.Name]
		if !ok {
			return nil, false, fmt.Errorf("pregel: process %q reads unknown channel %q", proc.Name, ref.Name)
		}
		v, err := ch.Get()
		if err != nil {
			if ref.Trigger {
				return nil, true, nil
			}
			return nil, false, nil
		}
		return v, false, nil
	}

	values := make(map[string]any, len(proc.Reads))
	for _, ref := range proc.Reads {
		ch, ok := channels[ref.Name]
		if !ok {
			return nil, false, fmt.Errorf("pregel: process %q reads unknown channel %q", proc.Name, ref.Name)
		}
		v, err := ch.Get()
		if err != nil {
			if ref.Trigger {
				return nil, true, nil
			}
			continue
		}
		key := ref.Key
		if key == "" {
			key = ref.Name
		}
		values[key] = v
	}
	return values, false, nil
}

// taskID derives a deterministic task identifier from the tuple that
// makes a task reproducible across workers and restarts.
func taskID(checkpointID string, step int, processName string, path []string) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%d|%s|%s", checkpointID, step, processName, strings.Join(path, "/"))
	return hex.EncodeToString(h.Sum(nil))
}
