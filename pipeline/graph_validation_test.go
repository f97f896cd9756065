package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/npipeline/pipeline"
)

func TestBuildRejectsDuplicateNodeID(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.Empty[int](ctx, "src"), nil
	}))
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.Empty[int](ctx, "src"), nil
	}))
	_, err := b.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrDuplicateNodeID)
}

func TestBuildRejectsSelfLoop(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddTransform[int, int](b, "tf", []string{"tf"}, pipeline.TransformFunc[int, int](identity[int]))
	_, err := b.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSelfLoop)
}

func TestBuildRejectsUnknownEdgeSource(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddTransform[int, int](b, "tf", []string{"does-not-exist"}, pipeline.TransformFunc[int, int](identity[int]))
	_, err := b.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrUnknownNode)
}

func TestBuildRejectsTypeMismatch(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.Empty[int](ctx, "src"), nil
	}))
	pipeline.AddTransform[string, string](b, "tf", []string{"src"}, pipeline.TransformFunc[string, string](identity[string]))
	_, err := b.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrTypeMismatch)
}

// TestBuildRejectsCycle wires two transforms into each other's input,
// forming a 2-cycle with no entry point.
func TestBuildRejectsCycle(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddTransform[int, int](b, "a", []string{"b"}, pipeline.TransformFunc[int, int](identity[int]))
	pipeline.AddTransform[int, int](b, "b", []string{"a"}, pipeline.TransformFunc[int, int](identity[int]))
	_, err := b.Build()
	require.Error(t, err)
	var cyc *pipeline.GraphCyclicError
	require.True(t, errors.As(err, &cyc), "expected a GraphCyclicError, got %v", err)
}

// TestBuildRejectsUnreachableSource wires one complete source/sink chain
// plus an orphan source with no outgoing edges at all.
func TestBuildRejectsUnreachableSource(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "main", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.Empty[int](ctx, "main"), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"main"}, pipeline.TransformFunc[int, int](identity[int]))
	pipeline.AddSink(b, "out", []string{"tf"}, &sliceSink[int]{})
	pipeline.AddSource(b, "orphan", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.Empty[int](ctx, "orphan"), nil
	}))

	_, err := b.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrUnreachableSource)
}
