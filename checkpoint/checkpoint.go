// Package checkpoint defines the durable snapshot format for a Pregel
// run — channel states, per-channel versions, and per-process seen
// versions — and the Checkpointer interface pluggable persistence
// backends implement.
package checkpoint

import (
	"errors"

	"github.com/google/uuid"
)

// Reserved channel names. User processes may not write to these directly;
// the step loop and algo package own them.
const (
	Interrupt  = "__interrupt__"
	Error      = "__error__"
	IsLastStep = "__is_last_step__"
)

// ErrNotFound is returned by a Checkpointer when no checkpoint exists for
// the requested config.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is an immutable-by-convention snapshot of every channel's
// checkpointed state together with the bookkeeping needed to decide which
// processes are eligible to run next.
type Checkpoint struct {
	ID string `json:"id"`

	// ChannelValues holds each channel's Checkpoint() snapshot, keyed by
	// channel name. A channel absent from the map has never been written.
	ChannelValues map[string]any `json:"channel_values"`

	// ChannelVersions is the monotonic version of each channel, advanced
	// by pregel.ApplyWrites every time a channel is updated.
	ChannelVersions map[string]int64 `json:"channel_versions"`

	// VersionsSeen maps process name -> channel name -> the version of
	// that channel the process last reacted to.
	VersionsSeen map[string]map[string]int64 `json:"versions_seen"`
}

// Empty returns a checkpoint with no channel state and no history —
// the starting point for a brand new run.
func Empty() Checkpoint {
	return Checkpoint{
		ID:              uuid.NewString(),
		ChannelValues:   map[string]any{},
		ChannelVersions: map[string]int64{},
		VersionsSeen:    map[string]map[string]int64{},
	}
}

// Copy returns a deep-enough copy of cp: new top-level maps, with the
// per-process version maps also copied so mutating the copy's
// VersionsSeen never mutates cp's. ChannelValues entries are shared by
// reference since they are treated as opaque and replaced wholesale by
// ApplyWrites, never mutated in place.
func Copy(cp Checkpoint) Checkpoint {
	out := Checkpoint{
		ID:              cp.ID,
		ChannelValues:   make(map[string]any, len(cp.ChannelValues)),
		ChannelVersions: make(map[string]int64, len(cp.ChannelVersions)),
		VersionsSeen:    make(map[string]map[string]int64, len(cp.VersionsSeen)),
	}
	for k, v := range cp.ChannelValues {
		out.ChannelValues[k] = v
	}
	for k, v := range cp.ChannelVersions {
		out.ChannelVersions[k] = v
	}
	for proc, seen := range cp.VersionsSeen {
		copied := make(map[string]int64, len(seen))
		for ch, v := range seen {
			copied[ch] = v
		}
		out.VersionsSeen[proc] = copied
	}
	return out
}

// Metadata is the bookkeeping attached to a checkpoint at the moment it
// is written, recording why the step loop produced it.
type Metadata struct {
	Step   int    `json:"step"`
	Source string `json:"source"` // "input" | "loop" | "update"
	Writes any    `json:"writes,omitempty"`
}

// Source values a Metadata.Source can carry.
const (
	SourceInput = "input"
	SourceLoop  = "loop"
	SourceUpdate = "update"
)

// PendingWrite is a durable (task_id, channel, value) tuple produced by a
// completed task but not yet folded into channels by ApplyWrites.
type PendingWrite struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   any    `json:"value"`
}

// Config identifies one run (thread) and, optionally, a specific
// checkpoint within its history via CheckpointID ("thread_ts").
type Config struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Tuple is what a Checkpointer returns for a GetTuple call: the
// checkpoint itself, its metadata, its parent's config (for chaining),
// and any writes recorded against it that have not yet been applied.
type Tuple struct {
	Config        Config
	Checkpoint    Checkpoint
	Metadata      Metadata
	ParentConfig  *Config
	PendingWrites []PendingWrite
}
