package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/npipeline/npstore"
)

// Store implements npstore.Store using Redis: checkpoints are JSON
// string values keyed by ID, indexed into a per-run set for ListCheckpoints; dead
// letters append to a per-run list. All keys optionally expire via TTL
// (spec §4.14 "optional TTL").
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "npipeline:"
	TTL      time.Duration // Expiration for checkpoints/dead letters, default 0 (no expiration)
}

// NewStore creates a Redis-backed npstore.Store.
func NewStore(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "npipeline:"
	}

	return &Store{client: client, prefix: prefix, ttl: opts.TTL}
}

// NewStoreWithClient wraps an already-constructed client, useful for
// tests against miniredis.
func NewStoreWithClient(client *redis.Client, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "npipeline:"
	}
	return &Store{client: client, prefix: prefix, ttl: opts.TTL}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) checkpointKey(id string) string   { return fmt.Sprintf("%scheckpoint:%s", s.prefix, id) }
func (s *Store) runIndexKey(runID string) string   { return fmt.Sprintf("%srun:%s:checkpoints", s.prefix, runID) }
func (s *Store) deadLetterKey(runID string) string { return fmt.Sprintf("%srun:%s:deadletters", s.prefix, runID) }

// SaveState upserts cp and indexes it under its run.
func (s *Store) SaveState(ctx context.Context, cp *npstore.StateCheckpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("npstore/redis: marshal checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.checkpointKey(cp.ID), data, s.ttl)
	if cp.PipelineRunID != "" {
		key := s.runIndexKey(cp.PipelineRunID)
		pipe.SAdd(ctx, key, cp.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("npstore/redis: save checkpoint: %w", err)
	}
	return nil
}

// LoadState retrieves a checkpoint by ID.
func (s *Store) LoadState(ctx context.Context, id string) (*npstore.StateCheckpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("npstore/redis: checkpoint %q not found", id)
		}
		return nil, fmt.Errorf("npstore/redis: load checkpoint: %w", err)
	}
	var cp npstore.StateCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("npstore/redis: unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// ListCheckpoints returns every checkpoint indexed under pipelineRunID.
func (s *Store) ListCheckpoints(ctx context.Context, pipelineRunID string) ([]*npstore.StateCheckpoint, error) {
	ids, err := s.client.SMembers(ctx, s.runIndexKey(pipelineRunID)).Result()
	if err != nil {
		return nil, fmt.Errorf("npstore/redis: list checkpoint ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(id)
	}
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("npstore/redis: fetch checkpoints: %w", err)
	}

	var out []*npstore.StateCheckpoint
	for _, result := range results {
		if result == nil {
			continue
		}
		raw, ok := result.(string)
		if !ok {
			continue
		}
		var cp npstore.StateCheckpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			continue
		}
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteState removes a checkpoint and its index entry.
func (s *Store) DeleteState(ctx context.Context, id string) error {
	cp, err := s.LoadState(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.checkpointKey(id))
	if cp.PipelineRunID != "" {
		pipe.SRem(ctx, s.runIndexKey(cp.PipelineRunID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("npstore/redis: delete checkpoint: %w", err)
	}
	return nil
}

// RecordDeadLetter appends rec to its run's dead-letter list.
func (s *Store) RecordDeadLetter(ctx context.Context, rec *npstore.DeadLetterRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("npstore/redis: marshal dead letter: %w", err)
	}
	key := s.deadLetterKey(rec.PipelineRunID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("npstore/redis: record dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns every dead-letter record for a run, in
// recording order.
func (s *Store) ListDeadLetters(ctx context.Context, pipelineRunID string) ([]*npstore.DeadLetterRecord, error) {
	raw, err := s.client.LRange(ctx, s.deadLetterKey(pipelineRunID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("npstore/redis: list dead letters: %w", err)
	}
	out := make([]*npstore.DeadLetterRecord, 0, len(raw))
	for _, item := range raw {
		var rec npstore.DeadLetterRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

var _ npstore.Store = (*Store)(nil)
