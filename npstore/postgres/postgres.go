package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/npipeline/npstore"
)

// DBPool is the narrow slice of *pgxpool.Pool the store needs, so
// pgxmock can stand in for it in tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements npstore.Store using PostgreSQL.
type Store struct {
	pool            DBPool
	checkpointTable string
	deadLetterTable string
}

// Options configures the Postgres connection.
type Options struct {
	ConnString      string
	CheckpointTable string // default "checkpoints"
	DeadLetterTable string // default "dead_letters"
}

// NewStore dials Postgres and creates a pool-backed npstore.Store.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("npstore/postgres: connect: %w", err)
	}
	return NewStoreWithPool(pool, opts), nil
}

// NewStoreWithPool wraps an existing pool or any other DBPool
// implementation.
func NewStoreWithPool(pool DBPool, opts Options) *Store {
	checkpointTable := opts.CheckpointTable
	if checkpointTable == "" {
		checkpointTable = "checkpoints"
	}
	deadLetterTable := opts.DeadLetterTable
	if deadLetterTable == "" {
		deadLetterTable = "dead_letters"
	}
	return &Store{pool: pool, checkpointTable: checkpointTable, deadLetterTable: deadLetterTable}
}

// InitSchema creates the checkpoint and dead-letter tables if absent.
func (s *Store) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			pipeline_run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL,
			version INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (pipeline_run_id);

		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			pipeline_run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			item JSONB NOT NULL,
			error TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_run_id ON %s (pipeline_run_id);
	`, s.checkpointTable, s.checkpointTable, s.checkpointTable,
		s.deadLetterTable, s.deadLetterTable, s.deadLetterTable)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("npstore/postgres: create schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// SaveState upserts a checkpoint.
func (s *Store) SaveState(ctx context.Context, cp *npstore.StateCheckpoint) error {
	payloadJSON, err := npstore.MarshalPayload(cp.Payload)
	if err != nil {
		return fmt.Errorf("npstore/postgres: marshal payload: %w", err)
	}
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("npstore/postgres: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, pipeline_run_id, node_id, payload, metadata, timestamp, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			pipeline_run_id = EXCLUDED.pipeline_run_id,
			node_id = EXCLUDED.node_id,
			payload = EXCLUDED.payload,
			metadata = EXCLUDED.metadata,
			timestamp = EXCLUDED.timestamp,
			version = EXCLUDED.version
	`, s.checkpointTable)

	_, err = s.pool.Exec(ctx, query, cp.ID, cp.PipelineRunID, cp.NodeID, payloadJSON, metadataJSON, cp.Timestamp, cp.Version)
	if err != nil {
		return fmt.Errorf("npstore/postgres: save checkpoint: %w", err)
	}
	return nil
}

// LoadState retrieves a checkpoint by ID.
func (s *Store) LoadState(ctx context.Context, id string) (*npstore.StateCheckpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, pipeline_run_id, node_id, payload, metadata, timestamp, version
		FROM %s WHERE id = $1
	`, s.checkpointTable)

	var cp npstore.StateCheckpoint
	var payloadJSON, metadataJSON []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&cp.ID, &cp.PipelineRunID, &cp.NodeID, &payloadJSON, &metadataJSON, &cp.Timestamp, &cp.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("npstore/postgres: checkpoint %q not found", id)
		}
		return nil, fmt.Errorf("npstore/postgres: load checkpoint: %w", err)
	}
	payload, err := npstore.UnmarshalPayload(payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("npstore/postgres: unmarshal payload: %w", err)
	}
	cp.Payload = payload
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("npstore/postgres: unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// ListCheckpoints returns every checkpoint for a run, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, pipelineRunID string) ([]*npstore.StateCheckpoint, error) {
	query := fmt.Sprintf(`
		SELECT id, pipeline_run_id, node_id, payload, metadata, timestamp, version
		FROM %s WHERE pipeline_run_id = $1 ORDER BY timestamp ASC
	`, s.checkpointTable)

	rows, err := s.pool.Query(ctx, query, pipelineRunID)
	if err != nil {
		return nil, fmt.Errorf("npstore/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*npstore.StateCheckpoint
	for rows.Next() {
		var cp npstore.StateCheckpoint
		var payloadJSON, metadataJSON []byte
		if err := rows.Scan(&cp.ID, &cp.PipelineRunID, &cp.NodeID, &payloadJSON, &metadataJSON, &cp.Timestamp, &cp.Version); err != nil {
			return nil, fmt.Errorf("npstore/postgres: scan checkpoint: %w", err)
		}
		payload, err := npstore.UnmarshalPayload(payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("npstore/postgres: unmarshal payload: %w", err)
		}
		cp.Payload = payload
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &cp.Metadata); err != nil {
				return nil, fmt.Errorf("npstore/postgres: unmarshal metadata: %w", err)
			}
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// DeleteState removes a checkpoint.
func (s *Store) DeleteState(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.checkpointTable)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("npstore/postgres: delete checkpoint: %w", err)
	}
	return nil
}

// RecordDeadLetter appends a dead-letter record.
func (s *Store) RecordDeadLetter(ctx context.Context, rec *npstore.DeadLetterRecord) error {
	itemJSON, err := npstore.MarshalPayload(rec.Item)
	if err != nil {
		return fmt.Errorf("npstore/postgres: marshal dead letter item: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, pipeline_run_id, node_id, item, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.deadLetterTable)
	_, err = s.pool.Exec(ctx, query, rec.ID, rec.PipelineRunID, rec.NodeID, itemJSON, rec.Error, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("npstore/postgres: record dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns every dead-letter record for a run.
func (s *Store) ListDeadLetters(ctx context.Context, pipelineRunID string) ([]*npstore.DeadLetterRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, pipeline_run_id, node_id, item, error, timestamp
		FROM %s WHERE pipeline_run_id = $1 ORDER BY timestamp ASC
	`, s.deadLetterTable)

	rows, err := s.pool.Query(ctx, query, pipelineRunID)
	if err != nil {
		return nil, fmt.Errorf("npstore/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*npstore.DeadLetterRecord
	for rows.Next() {
		var rec npstore.DeadLetterRecord
		var itemJSON []byte
		if err := rows.Scan(&rec.ID, &rec.PipelineRunID, &rec.NodeID, &itemJSON, &rec.Error, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("npstore/postgres: scan dead letter: %w", err)
		}
		item, err := npstore.UnmarshalPayload(itemJSON)
		if err != nil {
			return nil, fmt.Errorf("npstore/postgres: unmarshal dead letter item: %w", err)
		}
		rec.Item = item
		out = append(out, &rec)
	}
	return out, rows.Err()
}

var _ npstore.Store = (*Store)(nil)
