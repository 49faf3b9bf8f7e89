package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteCheckpointer is a pure-Go, file-backed Checkpointer. It is
// designed for single-process runs and local development: zero native
// dependencies, WAL mode for concurrent readers, transactional writes.
//
// Schema:
//   - checkpoints: one row per checkpoint, channel state as a JSON blob
//   - pending_writes: one row per (checkpoint, task, channel) write,
//     keyed on (checkpoint_id, task_id, ordinal) so a replayed
//     PutWrites call for an already-recorded task is a no-op
type SQLiteCheckpointer struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteCheckpointer opens (creating if absent) a SQLite database at
// path and ensures its schema exists. Use ":memory:" for ephemeral use.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("checkpoint: %s: %w", pragma, err)
		}
	}

	c := &SQLiteCheckpointer{db: db}
	if err := c.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCheckpointer) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			parent_id TEXT,
			step INTEGER NOT NULL,
			source TEXT NOT NULL,
			channel_values TEXT NOT NULL,
			channel_versions TEXT NOT NULL,
			versions_seen TEXT NOT NULL,
			writes TEXT,
			seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_seq ON checkpoints(thread_id, seq)`,
		`CREATE TABLE IF NOT EXISTS pending_writes (
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			channel TEXT NOT NULL,
			value TEXT,
			PRIMARY KEY (checkpoint_id, task_id, ordinal)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: create schema: %w", err)
		}
	}
	return nil
}

func (c *SQLiteCheckpointer) Close() error { return c.db.Close() }

func (c *SQLiteCheckpointer) GetTuple(ctx context.Context, cfg Config) (Tuple, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var row *sql.Row
	if cfg.CheckpointID != "" {
		row = c.db.QueryRowContext(ctx,
			`SELECT id, thread_id, parent_id, step, source, channel_values, channel_versions, versions_seen, writes
			 FROM checkpoints WHERE thread_id = ? AND id = ?`, cfg.ThreadID, cfg.CheckpointID)
	} else {
		row = c.db.QueryRowContext(ctx,
			`SELECT id, thread_id, parent_id, step, source, channel_values, channel_versions, versions_seen, writes
			 FROM checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`, cfg.ThreadID)
	}

	var id, threadID, source string
	var parentID sql.NullString
	var step int
	var valuesJSON, versionsJSON, seenJSON string
	var writesJSON sql.NullString
	if err := row.Scan(&id, &threadID, &parentID, &step, &source, &valuesJSON, &versionsJSON, &seenJSON, &writesJSON); err != nil {
		if err == sql.ErrNoRows {
			return Tuple{}, ErrNotFound
		}
		return Tuple{}, fmt.Errorf("checkpoint: get tuple: %w", err)
	}

	cp := Checkpoint{ID: id}
	if err := json.Unmarshal([]byte(valuesJSON), &cp.ChannelValues); err != nil {
		return Tuple{}, fmt.Errorf("checkpoint: decode channel_values: %w", err)
	}
	if err := json.Unmarshal([]byte(versionsJSON), &cp.ChannelVersions); err != nil {
		return Tuple{}, fmt.Errorf("checkpoint: decode channel_versions: %w", err)
	}
	if err := json.Unmarshal([]byte(seenJSON), &cp.VersionsSeen); err != nil {
		return Tuple{}, fmt.Errorf("checkpoint: decode versions_seen: %w", err)
	}

	meta := Metadata{Step: step, Source: source}
	if writesJSON.Valid {
		_ = json.Unmarshal([]byte(writesJSON.String), &meta.Writes)
	}

	var parent *Config
	if parentID.Valid && parentID.String != "" {
		parent = &Config{ThreadID: threadID, CheckpointID: parentID.String}
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT task_id, channel, value FROM pending_writes WHERE checkpoint_id = ? ORDER BY task_id, ordinal`, id)
	if err != nil {
		return Tuple{}, fmt.Errorf("checkpoint: load pending writes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []PendingWrite
	for rows.Next() {
		var taskID, channel string
		var valueJSON sql.NullString
		if err := rows.Scan(&taskID, &channel, &valueJSON); err != nil {
			return Tuple{}, fmt.Errorf("checkpoint: scan pending write: %w", err)
		}
		var value any
		if valueJSON.Valid {
			_ = json.Unmarshal([]byte(valueJSON.String), &value)
		}
		pending = append(pending, PendingWrite{TaskID: taskID, Channel: channel, Value: value})
	}

	return Tuple{
		Config:        Config{ThreadID: threadID, CheckpointID: id},
		Checkpoint:    cp,
		Metadata:      meta,
		ParentConfig:  parent,
		PendingWrites: pending,
	}, nil
}

func (c *SQLiteCheckpointer) Put(ctx context.Context, cfg Config, cp Checkpoint, meta Metadata) (Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	valuesJSON, err := json.Marshal(cp.ChannelValues)
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: encode channel_values: %w", err)
	}
	versionsJSON, err := json.Marshal(cp.ChannelVersions)
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: encode channel_versions: %w", err)
	}
	seenJSON, err := json.Marshal(cp.VersionsSeen)
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: encode versions_seen: %w", err)
	}
	writesJSON, err := json.Marshal(meta.Writes)
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: encode writes: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Config{}, fmt.Errorf("checkpoint: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?`, cfg.ThreadID,
	).Scan(&seq); err != nil {
		return Config{}, fmt.Errorf("checkpoint: next seq: %w", err)
	}

	var parentID any
	if cfg.CheckpointID != "" {
		parentID = cfg.CheckpointID
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, thread_id, parent_id, step, source, channel_values, channel_versions, versions_seen, writes, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cfg.ThreadID, parentID, meta.Step, meta.Source, string(valuesJSON), string(versionsJSON), string(seenJSON), string(writesJSON), seq,
	); err != nil {
		return Config{}, fmt.Errorf("checkpoint: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Config{}, fmt.Errorf("checkpoint: commit: %w", err)
	}

	return Config{ThreadID: cfg.ThreadID, CheckpointID: cp.ID}, nil
}

func (c *SQLiteCheckpointer) PutWrites(ctx context.Context, cfg Config, taskID string, writes []PendingWrite) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_writes WHERE checkpoint_id = ? AND task_id = ?`,
		cfg.CheckpointID, taskID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checkpoint: check existing writes: %w", err)
	}
	if exists > 0 {
		return tx.Commit() // already recorded: idempotent replay
	}

	for i, w := range writes {
		valueJSON, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("checkpoint: encode write value: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_writes (checkpoint_id, task_id, ordinal, channel, value) VALUES (?, ?, ?, ?, ?)`,
			cfg.CheckpointID, taskID, i, w.Channel, string(valueJSON),
		); err != nil {
			return fmt.Errorf("checkpoint: insert pending write: %w", err)
		}
	}

	return tx.Commit()
}

func (c *SQLiteCheckpointer) GetNextVersion(prev int64) int64 { return Increment(prev) }
