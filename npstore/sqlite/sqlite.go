package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/npipeline/npstore"
)

// Store implements npstore.Store using SQLite.
type Store struct {
	db              *sql.DB
	checkpointTable string
	deadLetterTable string
}

// Options configures the SQLite connection.
type Options struct {
	Path            string
	CheckpointTable string // default "checkpoints"
	DeadLetterTable string // default "dead_letters"
}

// NewStore opens (creating if absent) a SQLite-backed npstore.Store.
func NewStore(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("npstore/sqlite: open: %w", err)
	}

	checkpointTable := opts.CheckpointTable
	if checkpointTable == "" {
		checkpointTable = "checkpoints"
	}
	deadLetterTable := opts.DeadLetterTable
	if deadLetterTable == "" {
		deadLetterTable = "dead_letters"
	}

	s := &Store{db: db, checkpointTable: checkpointTable, deadLetterTable: deadLetterTable}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			pipeline_run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			metadata TEXT,
			timestamp DATETIME NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (pipeline_run_id);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			pipeline_run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			item TEXT NOT NULL,
			error TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (pipeline_run_id);
	`, s.checkpointTable, s.checkpointTable, s.checkpointTable,
		s.deadLetterTable, s.deadLetterTable, s.deadLetterTable)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("npstore/sqlite: create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// SaveState upserts a checkpoint.
func (s *Store) SaveState(ctx context.Context, cp *npstore.StateCheckpoint) error {
	payloadJSON, err := npstore.MarshalPayload(cp.Payload)
	if err != nil {
		return fmt.Errorf("npstore/sqlite: marshal payload: %w", err)
	}
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("npstore/sqlite: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, pipeline_run_id, node_id, payload, metadata, timestamp, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline_run_id = excluded.pipeline_run_id,
			node_id = excluded.node_id,
			payload = excluded.payload,
			metadata = excluded.metadata,
			timestamp = excluded.timestamp,
			version = excluded.version
	`, s.checkpointTable)

	_, err = s.db.ExecContext(ctx, query,
		cp.ID, cp.PipelineRunID, cp.NodeID, string(payloadJSON), string(metadataJSON), cp.Timestamp, cp.Version)
	if err != nil {
		return fmt.Errorf("npstore/sqlite: save checkpoint: %w", err)
	}
	return nil
}

// LoadState retrieves a checkpoint by ID.
func (s *Store) LoadState(ctx context.Context, id string) (*npstore.StateCheckpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, pipeline_run_id, node_id, payload, metadata, timestamp, version
		FROM %s WHERE id = ?
	`, s.checkpointTable)

	var cp npstore.StateCheckpoint
	var payloadJSON, metadataJSON string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&cp.ID, &cp.PipelineRunID, &cp.NodeID, &payloadJSON, &metadataJSON, &cp.Timestamp, &cp.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("npstore/sqlite: checkpoint %q not found", id)
		}
		return nil, fmt.Errorf("npstore/sqlite: load checkpoint: %w", err)
	}
	payload, err := npstore.UnmarshalPayload([]byte(payloadJSON))
	if err != nil {
		return nil, fmt.Errorf("npstore/sqlite: unmarshal payload: %w", err)
	}
	cp.Payload = payload
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal([]byte(metadataJSON), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("npstore/sqlite: unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// ListCheckpoints returns every checkpoint for a run, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, pipelineRunID string) ([]*npstore.StateCheckpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, pipeline_run_id, node_id, payload, metadata, timestamp, version
		FROM %s WHERE pipeline_run_id = ? ORDER BY timestamp ASC
	`, s.checkpointTable)

	rows, err := s.db.QueryContext(ctx, query, pipelineRunID)
	if err != nil {
		return nil, fmt.Errorf("npstore/sqlite: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*npstore.StateCheckpoint
	for rows.Next() {
		var cp npstore.StateCheckpoint
		var payloadJSON, metadataJSON string
		if err := rows.Scan(&cp.ID, &cp.PipelineRunID, &cp.NodeID, &payloadJSON, &metadataJSON, &cp.Timestamp, &cp.Version); err != nil {
			return nil, fmt.Errorf("npstore/sqlite: scan checkpoint: %w", err)
		}
		payload, err := npstore.UnmarshalPayload([]byte(payloadJSON))
		if err != nil {
			return nil, fmt.Errorf("npstore/sqlite: unmarshal payload: %w", err)
		}
		cp.Payload = payload
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal([]byte(metadataJSON), &cp.Metadata); err != nil {
				return nil, fmt.Errorf("npstore/sqlite: unmarshal metadata: %w", err)
			}
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// DeleteState removes a checkpoint.
func (s *Store) DeleteState(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.checkpointTable)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("npstore/sqlite: delete checkpoint: %w", err)
	}
	return nil
}

// RecordDeadLetter appends a dead-letter record.
func (s *Store) RecordDeadLetter(ctx context.Context, rec *npstore.DeadLetterRecord) error {
	itemJSON, err := npstore.MarshalPayload(rec.Item)
	if err != nil {
		return fmt.Errorf("npstore/sqlite: marshal dead letter item: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, pipeline_run_id, node_id, item, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.deadLetterTable)
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.PipelineRunID, rec.NodeID, string(itemJSON), rec.Error, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("npstore/sqlite: record dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns every dead-letter record for a run.
func (s *Store) ListDeadLetters(ctx context.Context, pipelineRunID string) ([]*npstore.DeadLetterRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, pipeline_run_id, node_id, item, error, timestamp
		FROM %s WHERE pipeline_run_id = ? ORDER BY timestamp ASC
	`, s.deadLetterTable)

	rows, err := s.db.QueryContext(ctx, query, pipelineRunID)
	if err != nil {
		return nil, fmt.Errorf("npstore/sqlite: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*npstore.DeadLetterRecord
	for rows.Next() {
		var rec npstore.DeadLetterRecord
		var itemJSON string
		if err := rows.Scan(&rec.ID, &rec.PipelineRunID, &rec.NodeID, &itemJSON, &rec.Error, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("npstore/sqlite: scan dead letter: %w", err)
		}
		item, err := npstore.UnmarshalPayload([]byte(itemJSON))
		if err != nil {
			return nil, fmt.Errorf("npstore/sqlite: unmarshal dead letter item: %w", err)
		}
		rec.Item = item
		out = append(out, &rec)
	}
	return out, rows.Err()
}

var _ npstore.Store = (*Store)(nil)
