package checkpoint

import "context"

// Checkpointer is pluggable persistence for checkpoints and the pending
// writes attached to them. Implementations must be safe under concurrent
// PutWrites calls for distinct task IDs against the same Config, and must
// preserve the order of writes within a single PutWrites call.
type Checkpointer interface {
	// GetTuple returns the latest checkpoint for cfg.ThreadID, or
	// ErrNotFound if the thread has never been checkpointed. If
	// cfg.CheckpointID is set, the specific checkpoint it names is
	// returned instead of the latest.
	GetTuple(ctx context.Context, cfg Config) (Tuple, error)

	// Put persists a new checkpoint as a child of cfg, returning an
	// updated Config whose CheckpointID names the new checkpoint —
	// the thread_ts chaining that lets every checkpoint point at its
	// parent.
	Put(ctx context.Context, cfg Config, cp Checkpoint, meta Metadata) (Config, error)

	// PutWrites appends writes, associated with taskID, to the pending
	// writes of the checkpoint named by cfg. Writes already recorded
	// under the same (cfg, taskID) pair are not duplicated, giving the
	// at-most-once-apply guarantee its persistence half.
	PutWrites(ctx context.Context, cfg Config, taskID string, writes []PendingWrite) error

	// GetNextVersion returns the version that follows prev for some
	// channel. The default is a monotone integer increment; a
	// Checkpointer may instead return a time-based version to get
	// wall-clock-ordered versions across workers.
	GetNextVersion(prev int64) int64
}

// Increment is the default GetNextVersion: plain integer increment.
func Increment(prev int64) int64 { return prev + 1 }
