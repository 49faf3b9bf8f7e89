package checkpoint

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemCheckpointer is an in-memory Checkpointer. It keeps the full
// checkpoint history per thread (for time-travel/debugging) but
// GetTuple always returns the most recent one unless a specific
// CheckpointID is requested.
type MemCheckpointer struct {
	mu sync.Mutex

	// history[threadID] is append-only, oldest first.
	history map[string][]storedCheckpoint

	// pending[threadID][checkpointID] accumulates PendingWrite rows,
	// deduplicated by task ID so replayed PutWrites are idempotent.
	pending map[string]map[string][]PendingWrite
	seen    map[string]map[string]map[string]bool // threadID -> checkpointID -> taskID -> true
}

type storedCheckpoint struct {
	config   Config
	parent   *Config
	cp       Checkpoint
	metadata Metadata
}

// NewMemCheckpointer returns an empty MemCheckpointer.
func NewMemCheckpointer() *MemCheckpointer {
	return &MemCheckpointer{
		history: make(map[string][]storedCheckpoint),
		pending: make(map[string]map[string][]PendingWrite),
		seen:    make(map[string]map[string]map[string]bool),
	}
}

func (m *MemCheckpointer) GetTuple(_ context.Context, cfg Config) (Tuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.history[cfg.ThreadID]
	if len(entries) == 0 {
		return Tuple{}, ErrNotFound
	}

	var found *storedCheckpoint
	if cfg.CheckpointID != "" {
		for i := range entries {
			if entries[i].cp.ID == cfg.CheckpointID {
				found = &entries[i]
				break
			}
		}
		if found == nil {
			return Tuple{}, ErrNotFound
		}
	} else {
		found = &entries[len(entries)-1]
	}

	writes := m.pending[cfg.ThreadID][found.cp.ID]
	out := make([]PendingWrite, len(writes))
	copy(out, writes)

	return Tuple{
		Config:        found.config,
		Checkpoint:    Copy(found.cp),
		Metadata:      found.metadata,
		ParentConfig:  found.parent,
		PendingWrites: out,
	}, nil
}

func (m *MemCheckpointer) Put(_ context.Context, cfg Config, cp Checkpoint, meta Metadata) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}

	var parent *Config
	if cfg.CheckpointID != "" {
		p := cfg
		parent = &p
	}

	newCfg := Config{ThreadID: cfg.ThreadID, CheckpointID: cp.ID}
	m.history[cfg.ThreadID] = append(m.history[cfg.ThreadID], storedCheckpoint{
		config:   newCfg,
		parent:   parent,
		cp:       Copy(cp),
		metadata: meta,
	})
	return newCfg, nil
}

func (m *MemCheckpointer) PutWrites(_ context.Context, cfg Config, taskID string, writes []PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[cfg.ThreadID] == nil {
		m.pending[cfg.ThreadID] = make(map[string][]PendingWrite)
	}
	if m.seen[cfg.ThreadID] == nil {
		m.seen[cfg.ThreadID] = make(map[string]map[string]bool)
	}
	if m.seen[cfg.ThreadID][cfg.CheckpointID] == nil {
		m.seen[cfg.ThreadID][cfg.CheckpointID] = make(map[string]bool)
	}
	if m.seen[cfg.ThreadID][cfg.CheckpointID][taskID] {
		return nil // already recorded: idempotent replay
	}
	m.seen[cfg.ThreadID][cfg.CheckpointID][taskID] = true
	m.pending[cfg.ThreadID][cfg.CheckpointID] = append(m.pending[cfg.ThreadID][cfg.CheckpointID], writes...)
	return nil
}

func (m *MemCheckpointer) GetNextVersion(prev int64) int64 { return Increment(prev) }

// ClearPendingWrites drops the pending writes recorded against a
// checkpoint once they have been folded by ApplyWrites. Exported for use
// by the step loop, which owns the decision of when a step is complete.
func (m *MemCheckpointer) ClearPendingWrites(threadID, checkpointID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending[threadID], checkpointID)
	delete(m.seen[threadID], checkpointID)
}
