// Package file implements npstore.Store as two append-only JSON-lines
// files, useful as a dead-letter sink in examples and tests where a
// database is unavailable. Checkpoints support upsert semantics by
// compacting the file on SaveState/DeleteState; dead letters are
// write-once and never compacted.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/smallnest/npipeline/npstore"
)

// Store is a JSON-lines-file-backed npstore.Store.
type Store struct {
	mu             sync.Mutex
	checkpointPath string
	deadLetterPath string
}

// Options configures the backing file paths.
type Options struct {
	CheckpointPath string
	DeadLetterPath string
}

// NewStore opens (creating if absent) the two backing files.
func NewStore(opts Options) (*Store, error) {
	s := &Store{checkpointPath: opts.CheckpointPath, deadLetterPath: opts.DeadLetterPath}
	for _, path := range []string{s.checkpointPath, s.deadLetterPath} {
		if path == "" {
			continue
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("npstore/file: open %q: %w", path, err)
		}
		f.Close()
	}
	return s, nil
}

func (s *Store) readCheckpoints() ([]*npstore.StateCheckpoint, error) {
	return readLines[npstore.StateCheckpoint](s.checkpointPath)
}

func (s *Store) readDeadLetters() ([]*npstore.DeadLetterRecord, error) {
	return readLines[npstore.DeadLetterRecord](s.deadLetterPath)
}

func readLines[T any](path string) ([]*T, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []*T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("npstore/file: decode line: %w", err)
		}
		out = append(out, &v)
	}
	return out, scanner.Err()
}

func (s *Store) rewriteCheckpoints(cps []*npstore.StateCheckpoint) error {
	f, err := os.Create(s.checkpointPath)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, cp := range cps {
		data, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}

// SaveState upserts cp, rewriting the checkpoint file.
func (s *Store) SaveState(_ context.Context, cp *npstore.StateCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readCheckpoints()
	if err != nil {
		return err
	}
	replaced := false
	for i, e := range existing {
		if e.ID == cp.ID {
			existing[i] = cp
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, cp)
	}
	return s.rewriteCheckpoints(existing)
}

// LoadState retrieves a checkpoint by ID.
func (s *Store) LoadState(_ context.Context, id string) (*npstore.StateCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cps, err := s.readCheckpoints()
	if err != nil {
		return nil, err
	}
	for _, cp := range cps {
		if cp.ID == id {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("npstore/file: checkpoint %q not found", id)
}

// ListCheckpoints returns every checkpoint for a run, in file order.
func (s *Store) ListCheckpoints(_ context.Context, pipelineRunID string) ([]*npstore.StateCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cps, err := s.readCheckpoints()
	if err != nil {
		return nil, err
	}
	var out []*npstore.StateCheckpoint
	for _, cp := range cps {
		if cp.PipelineRunID == pipelineRunID {
			out = append(out, cp)
		}
	}
	return out, nil
}

// DeleteState removes a checkpoint, rewriting the checkpoint file.
func (s *Store) DeleteState(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cps, err := s.readCheckpoints()
	if err != nil {
		return err
	}
	out := cps[:0]
	for _, cp := range cps {
		if cp.ID != id {
			out = append(out, cp)
		}
	}
	return s.rewriteCheckpoints(out)
}

// RecordDeadLetter appends rec to the dead-letter file.
func (s *Store) RecordDeadLetter(_ context.Context, rec *npstore.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.deadLetterPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("npstore/file: open dead-letter file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("npstore/file: marshal dead letter: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("npstore/file: append dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns every dead-letter record for a run, in
// recording order.
func (s *Store) ListDeadLetters(_ context.Context, pipelineRunID string) ([]*npstore.DeadLetterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.readDeadLetters()
	if err != nil {
		return nil, err
	}
	var out []*npstore.DeadLetterRecord
	for _, rec := range recs {
		if rec.PipelineRunID == pipelineRunID {
			out = append(out, rec)
		}
	}
	return out, nil
}

var _ npstore.Store = (*Store)(nil)
