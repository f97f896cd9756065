package pipeline_test

import (
	"context"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/npipeline/nplog"
	"github.com/smallnest/npipeline/pipeline"
)

// TestRunnerLogsThroughGologLogger wires a GologLogger into
// RunnerOptions.Logger and runs a small pipeline through it, so the
// runner's logging calls go to a golog instance rather than the built-in
// NoOpLogger; it checks that the run completes and the level is kept, not
// what golog printed.
func TestRunnerLogsThroughGologLogger(t *testing.T) {
	t.Parallel()

	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", []int{1, 2, 3}), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"src"}, pipeline.TransformFunc[int, int](identity[int]))
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"tf"}, sink)

	g, err := b.Build()
	require.NoError(t, err)

	logger := nplog.NewGologLogger(golog.New())
	logger.SetLevel(nplog.LogLevelDebug)

	opts := pipeline.DefaultRunnerOptions()
	opts.Logger = logger
	r := pipeline.NewRunner(g, opts)
	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, []int{1, 2, 3}, sink.Items())
	require.Equal(t, nplog.LogLevelDebug, logger.GetLevel())
}
