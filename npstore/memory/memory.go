// Package memory implements npstore.Store as a process-local map, for
// development and for tests that need no external dependency. The
// pipeline Runner does not install it, or any other store, by default.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallnest/npipeline/npstore"
)

// Store is a map-backed npstore.Store, safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*npstore.StateCheckpoint
	deadLetters map[string][]*npstore.DeadLetterRecord
}

// NewStore returns an empty in-memory Store.
func NewStore() *Store {
	return &Store{
		checkpoints: make(map[string]*npstore.StateCheckpoint),
		deadLetters: make(map[string][]*npstore.DeadLetterRecord),
	}
}

// SaveState upserts cp by ID.
func (s *Store) SaveState(_ context.Context, cp *npstore.StateCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cp
	s.checkpoints[cp.ID] = &stored
	return nil
}

// LoadState retrieves a checkpoint by ID.
func (s *Store) LoadState(_ context.Context, id string) (*npstore.StateCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("npstore/memory: checkpoint %q not found", id)
	}
	stored := *cp
	return &stored, nil
}

// ListCheckpoints returns every checkpoint for a run; order is
// unspecified since the map has no notion of insertion order.
func (s *Store) ListCheckpoints(_ context.Context, pipelineRunID string) ([]*npstore.StateCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*npstore.StateCheckpoint
	for _, cp := range s.checkpoints {
		if cp.PipelineRunID == pipelineRunID {
			stored := *cp
			out = append(out, &stored)
		}
	}
	return out, nil
}

// DeleteState removes a checkpoint.
func (s *Store) DeleteState(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, id)
	return nil
}

// RecordDeadLetter appends rec to its run's in-memory list.
func (s *Store) RecordDeadLetter(_ context.Context, rec *npstore.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *rec
	s.deadLetters[rec.PipelineRunID] = append(s.deadLetters[rec.PipelineRunID], &stored)
	return nil
}

// ListDeadLetters returns every dead-letter record for a run, in
// recording order.
func (s *Store) ListDeadLetters(_ context.Context, pipelineRunID string) ([]*npstore.DeadLetterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.deadLetters[pipelineRunID]
	out := make([]*npstore.DeadLetterRecord, len(recs))
	for i, r := range recs {
		stored := *r
		out[i] = &stored
	}
	return out, nil
}

var _ npstore.Store = (*Store)(nil)
