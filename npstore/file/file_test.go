package file

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/npipeline/npstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(Options{
		CheckpointPath: filepath.Join(dir, "checkpoints.jsonl"),
		DeadLetterPath: filepath.Join(dir, "deadletters.jsonl"),
	})
	require.NoError(t, err)
	return s
}

func TestStoreSaveLoadState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	cp := &npstore.StateCheckpoint{ID: "cp-1", PipelineRunID: "run-1", NodeID: "aggregate-1", Version: 1}
	require.NoError(t, s.SaveState(ctx, cp))

	loaded, err := s.LoadState(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "aggregate-1", loaded.NodeID)

	_, err = s.LoadState(ctx, "missing")
	assert.Error(t, err)
}

func TestStoreSaveStateUpserts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, &npstore.StateCheckpoint{ID: "cp-1", PipelineRunID: "run-1", Version: 1}))
	require.NoError(t, s.SaveState(ctx, &npstore.StateCheckpoint{ID: "cp-1", PipelineRunID: "run-1", Version: 2}))

	list, err := s.ListCheckpoints(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Version)
}

func TestStoreListCheckpointsFiltersByRun(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, &npstore.StateCheckpoint{ID: "a", PipelineRunID: "run-1"}))
	require.NoError(t, s.SaveState(ctx, &npstore.StateCheckpoint{ID: "b", PipelineRunID: "run-2"}))

	list, err := s.ListCheckpoints(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)
}

func TestStoreDeleteState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, &npstore.StateCheckpoint{ID: "a", PipelineRunID: "run-1"}))
	require.NoError(t, s.DeleteState(ctx, "a"))
	_, err := s.LoadState(ctx, "a")
	assert.Error(t, err)
}

func TestStoreDeadLettersAppendOnly(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordDeadLetter(ctx, &npstore.DeadLetterRecord{ID: "dl-1", PipelineRunID: "run-1", Item: 5, Error: "boom"}))
	require.NoError(t, s.RecordDeadLetter(ctx, &npstore.DeadLetterRecord{ID: "dl-2", PipelineRunID: "run-1", Item: 7, Error: "boom2"}))

	recs, err := s.ListDeadLetters(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "dl-1", recs[0].ID)
	assert.Equal(t, "dl-2", recs[1].ID)
}
