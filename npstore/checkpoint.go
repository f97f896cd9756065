// Package npstore persists the two kinds of durable state the pipeline
// engine treats as external collaborators (spec §1, §6): per-node
// checkpoints (replay-buffer progress, aggregate window state) and
// dead-letter records produced by the resilience layer's error handler
// (spec §4.7(b)).
package npstore

import (
	"context"
	"encoding/json"
	"time"
)

// StateCheckpoint is a durable snapshot of one node's resumable state
// within a pipeline run: the replay cursor of a ResilientWithReplay
// node, or a keyed aggregate's window state.
type StateCheckpoint struct {
	ID            string         `json:"id"`
	PipelineRunID string         `json:"pipeline_run_id"`
	NodeID        string         `json:"node_id"`
	Payload       any            `json:"payload"`
	Metadata      map[string]any `json:"metadata"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       int            `json:"version"`
}

type stateCheckpointWire struct {
	ID            string          `json:"id"`
	PipelineRunID string          `json:"pipeline_run_id"`
	NodeID        string          `json:"node_id"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      map[string]any  `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// MarshalJSON routes Payload through the global TypeRegistry so a value
// registered with RegisterType round-trips as that concrete Go type
// instead of a generic map.
func (cp StateCheckpoint) MarshalJSON() ([]byte, error) {
	payload, err := MarshalPayload(cp.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stateCheckpointWire{
		ID:            cp.ID,
		PipelineRunID: cp.PipelineRunID,
		NodeID:        cp.NodeID,
		Payload:       payload,
		Metadata:      cp.Metadata,
		Timestamp:     cp.Timestamp,
		Version:       cp.Version,
	})
}

// UnmarshalJSON is the counterpart to MarshalJSON.
func (cp *StateCheckpoint) UnmarshalJSON(data []byte) error {
	var wire stateCheckpointWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := UnmarshalPayload(wire.Payload)
	if err != nil {
		return err
	}
	*cp = StateCheckpoint{
		ID:            wire.ID,
		PipelineRunID: wire.PipelineRunID,
		NodeID:        wire.NodeID,
		Payload:       payload,
		Metadata:      wire.Metadata,
		Timestamp:     wire.Timestamp,
		Version:       wire.Version,
	}
	return nil
}

// DeadLetterRecord is a durable record of an item the error handler
// elected to shed via DeadLetter (spec §4.7(b), §6).
type DeadLetterRecord struct {
	ID            string    `json:"id"`
	PipelineRunID string    `json:"pipeline_run_id"`
	NodeID        string    `json:"node_id"`
	Item          any       `json:"item"`
	Error         string    `json:"error"`
	Timestamp     time.Time `json:"timestamp"`
}

type deadLetterRecordWire struct {
	ID            string          `json:"id"`
	PipelineRunID string          `json:"pipeline_run_id"`
	NodeID        string          `json:"node_id"`
	Item          json.RawMessage `json:"item"`
	Error         string          `json:"error"`
	Timestamp     time.Time       `json:"timestamp"`
}

// MarshalJSON routes Item through the global TypeRegistry, the same as
// StateCheckpoint.MarshalJSON does for Payload.
func (rec DeadLetterRecord) MarshalJSON() ([]byte, error) {
	item, err := MarshalPayload(rec.Item)
	if err != nil {
		return nil, err
	}
	return json.Marshal(deadLetterRecordWire{
		ID:            rec.ID,
		PipelineRunID: rec.PipelineRunID,
		NodeID:        rec.NodeID,
		Item:          item,
		Error:         rec.Error,
		Timestamp:     rec.Timestamp,
	})
}

// UnmarshalJSON is the counterpart to MarshalJSON.
func (rec *DeadLetterRecord) UnmarshalJSON(data []byte) error {
	var wire deadLetterRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	item, err := UnmarshalPayload(wire.Item)
	if err != nil {
		return err
	}
	*rec = DeadLetterRecord{
		ID:            wire.ID,
		PipelineRunID: wire.PipelineRunID,
		NodeID:        wire.NodeID,
		Item:          item,
		Error:         wire.Error,
		Timestamp:     wire.Timestamp,
	}
	return nil
}

// Store is the persistence backend referenced by the pipeline context's
// well-known StateManager key (spec §6). No type in this module adapts a
// Store to the pipeline's DeadLetterSink interface.
// Implementations: npstore/memory, npstore/sqlite,
// npstore/postgres, npstore/redis, npstore/file.
type Store interface {
	// SaveState upserts a checkpoint by ID.
	SaveState(ctx context.Context, cp *StateCheckpoint) error
	// LoadState retrieves a checkpoint by ID.
	LoadState(ctx context.Context, id string) (*StateCheckpoint, error)
	// ListCheckpoints returns every checkpoint for a run. The order is
	// backend-specific: sqlite and postgres return oldest first.
	ListCheckpoints(ctx context.Context, pipelineRunID string) ([]*StateCheckpoint, error)
	// DeleteState removes a checkpoint.
	DeleteState(ctx context.Context, id string) error

	// RecordDeadLetter durably appends a dead-letter record.
	RecordDeadLetter(ctx context.Context, rec *DeadLetterRecord) error
	// ListDeadLetters returns every dead-letter record for a run.
	ListDeadLetters(ctx context.Context, pipelineRunID string) ([]*DeadLetterRecord, error)
}
