package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLCheckpointer is a Checkpointer backed by MySQL, for multi-process
// and distributed deployments where SQLiteCheckpointer's single-writer
// constraint does not hold. Schema mirrors SQLiteCheckpointer.
type MySQLCheckpointer struct {
	db *sql.DB
}

// NewMySQLCheckpointer opens a connection pool against dsn and ensures
// its schema exists.
func NewMySQLCheckpointer(dsn string) (*MySQLCheckpointer, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	c := &MySQLCheckpointer{db: db}
	if err := c.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *MySQLCheckpointer) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id VARCHAR(64) PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			parent_id VARCHAR(64),
			step INT NOT NULL,
			source VARCHAR(32) NOT NULL,
			channel_values JSON NOT NULL,
			channel_versions JSON NOT NULL,
			versions_seen JSON NOT NULL,
			writes JSON,
			seq BIGINT NOT NULL,
			INDEX idx_thread_seq (thread_id, seq)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS pending_writes (
			checkpoint_id VARCHAR(64) NOT NULL,
			task_id VARCHAR(255) NOT NULL,
			ordinal INT NOT NULL,
			channel VARCHAR(255) NOT NULL,
			value JSON,
			PRIMARY KEY (checkpoint_id, task_id, ordinal)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: create schema: %w", err)
		}
	}
	return nil
}

func (c *MySQLCheckpointer) Close() error { return c.db.Close() }

func (c *MySQLCheckpointer) GetTuple(ctx context.Context, cfg Config) (Tuple, error) {
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

func (c *MySQLCheckpointer) Put(ctx context.Context, cfg Config, cp Checkpoint, meta Metadata) (Config, error) {
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

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ? FOR UPDATE`, cfg.ThreadID,
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

func (c *MySQLCheckpointer) PutWrites(ctx context.Context, cfg Config, taskID string, writes []PendingWrite) error {
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
		return tx.Commit()
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

func (c *MySQLCheckpointer) GetNextVersion(prev int64) int64 { return Increment(prev) }
