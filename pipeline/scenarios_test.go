package pipeline_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/npipeline/pipeline"
)

// sliceSink collects every item it observes, in order, for assertions.
type sliceSink[T any] struct {
	mu    sync.Mutex
	items []T
}

func (s *sliceSink[T]) Consume(ctx context.Context, in pipeline.Pipe[T]) error {
	return in.Each(ctx, func(v T) error {
		s.mu.Lock()
		s.items = append(s.items, v)
		s.mu.Unlock()
		return nil
	})
}

func (s *sliceSink[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

func identity[T any](ctx context.Context, v T) (T, error) { return v, nil }

// recordingObserver tracks node lifecycle events for assertions about
// the runner's observer wiring.
type recordingObserver struct {
	mu        sync.Mutex
	started   map[string]int
	completed map[string]bool
	success   map[string]bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		started:   map[string]int{},
		completed: map[string]bool{},
		success:   map[string]bool{},
	}
}

func (o *recordingObserver) OnNodeStarted(nodeID string, kind pipeline.NodeKind, startedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started[nodeID]++
}

func (o *recordingObserver) OnNodeCompleted(nodeID string, kind pipeline.NodeKind, dur time.Duration, success bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed[nodeID] = true
	o.success[nodeID] = success
}

func (o *recordingObserver) OnRetry(string, pipeline.RetryEventKind, int, error) {}
func (o *recordingObserver) OnQueueDrop(string, pipeline.QueuePolicy, pipeline.DropKind, *int, int, int64, int64, int64) {
}
func (o *recordingObserver) OnQueueMetrics(string, pipeline.QueuePolicy, *int, int, int64, int64, int64, time.Time) {
}

// TestFanOutEquality is spec §8 scenario 1: a pass-through transform
// wired to two sinks via an implied multicast must deliver the same
// ordered subsequence to both.
func TestFanOutEquality(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", []int{1, 2, 3}), nil
	}))
	pipeline.AddTransform[int, int](b, "passthrough", []string{"src"}, pipeline.TransformFunc[int, int](identity[int]))
	s1 := &sliceSink[int]{}
	s2 := &sliceSink[int]{}
	pipeline.AddSink(b, "s1", []string{"passthrough"}, s1)
	pipeline.AddSink(b, "s2", []string{"passthrough"}, s2)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []int{1, 2, 3}, s1.Items())
	assert.Equal(t, []int{1, 2, 3}, s2.Items())
}

type kv struct {
	Key   string
	Value int
	At    time.Time
}

type sumResult struct {
	Key string
	Sum int
}

type sumAcc struct {
	Key string
	Sum int
}

type sumAggregator struct {
	window pipeline.WindowAssigner
}

func (sumAggregator) GetKey(item kv) string          { return item.Key }
func (sumAggregator) CreateAccumulator() sumAcc       { return sumAcc{} }
func (sumAggregator) Accumulate(acc sumAcc, item kv) (sumAcc, error) {
	return sumAcc{Key: item.Key, Sum: acc.Sum + item.Value}, nil
}
func (sumAggregator) GetResult(acc sumAcc) sumResult             { return sumResult{Key: acc.Key, Sum: acc.Sum} }
func (sumAggregator) EventTime(item kv) (time.Time, bool)        { return item.At, true }
func (a sumAggregator) WindowAssigner() pipeline.WindowAssigner { return a.window }
func (sumAggregator) AllowedLateness() time.Duration { return 0 }

// TestTumblingSum is spec §8 scenario 2.
func TestTumblingSum(t *testing.T) {
	t.Parallel()
	epoch := time.Unix(0, 0).UTC()
	items := []kv{
		{Key: "A", Value: 10, At: epoch.Add(0 * time.Second)},
		{Key: "A", Value: 5, At: epoch.Add(59 * time.Second)},
		{Key: "A", Value: 1, At: epoch.Add(60 * time.Second)},
		{Key: "B", Value: 7, At: epoch.Add(30 * time.Second)},
	}

	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[kv](func(ctx context.Context) (pipeline.Pipe[kv], error) {
		return pipeline.FromSlice(ctx, "src", items), nil
	}))
	agg := sumAggregator{window: pipeline.TumblingWindows{Size: 60 * time.Second}}
	pipeline.AddAggregate[kv, string, sumAcc, sumResult](b, "sum", []string{"src"}, agg, pipeline.WindowOptions{
		Kind: pipeline.Tumbling,
		Size: 60 * time.Second,
	})
	sink := &sliceSink[sumResult]{}
	pipeline.AddSink(b, "out", []string{"sum"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))

	got := sink.Items()
	require.Len(t, got, 3)
	// Watermarks are per key: A's [0,60) window fires when A's watermark
	// reaches 60s, and B's [0,60) window fires in the end-of-stream flush,
	// which emits by window end and so puts it before A's [60,120)
	// window. The test accepts either order for the first two.
	firstTwo := map[string]int{got[0].Key: got[0].Sum, got[1].Key: got[1].Sum}
	assert.Equal(t, map[string]int{"A": 15, "B": 7}, firstTwo)
	assert.Equal(t, sumResult{Key: "A", Sum: 1}, sumResult{Key: got[2].Key, Sum: got[2].Sum})
}

// TestBoundedParallelReorder is spec §8 scenario 3.
func TestBoundedParallelReorder(t *testing.T) {
	t.Parallel()
	input := make([]int, 100)
	for i := range input {
		input[i] = i + 1
	}

	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", input), nil
	}))
	pipeline.AddTransform[int, int](b, "double", []string{"src"}, pipeline.TransformFunc[int, int](func(ctx context.Context, v int) (int, error) {
		return v * 2, nil
	})).WithExecutionStrategy(pipeline.BoundedParallel).WithParallelDegree(8)
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"double"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))

	got := sink.Items()
	require.Len(t, got, 100)
	sort.Ints(got)
	want := make([]int, 100)
	for i := range want {
		want[i] = (i + 1) * 2
	}
	assert.Equal(t, want, got)
}

// TestItemRetryThenSkip is spec §8 scenario 4.
func TestItemRetryThenSkip(t *testing.T) {
	t.Parallel()
	input := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	var mu sync.Mutex
	attempts := map[int]int{}

	transform := pipeline.TransformFunc[int, int](func(ctx context.Context, v int) (int, error) {
		if v == 5 {
			mu.Lock()
			attempts[5]++
			n := attempts[5]
			mu.Unlock()
			if n == 1 {
				return 0, errors.New("transient failure on 5")
			}
			return v, nil
		}
		if v == 7 {
			return 0, errors.New("permanent failure on 7")
		}
		return v, nil
	})

	handler := pipeline.ErrorHandlerFunc(func(ctx context.Context, nodeID string, item any, err error) pipeline.ErrorDecision {
		if n, ok := item.(int); ok && n == 7 {
			return pipeline.Skip
		}
		return pipeline.Fail
	})

	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", input), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"src"}, transform).
		WithRetry(pipeline.RetryOptions{
			MaxItemRetries: 2,
			Backoff:        pipeline.FixedBackoff,
			InitialDelay:   time.Millisecond,
		}).
		WithErrorHandler(handler)
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"tf"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 8, 9, 10}, sink.Items())
}

// TestNodeRestartWithReplay is spec §8 scenario 5.
func TestNodeRestartWithReplay(t *testing.T) {
	t.Parallel()
	var attemptsOnThree atomic.Int32

	transform := pipeline.TransformFunc[int, int](func(ctx context.Context, v int) (int, error) {
		if v == 3 {
			n := attemptsOnThree.Add(1)
			if n < 3 {
				return 0, errors.New("boom on item 3")
			}
		}
		return v, nil
	})

	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", []int{1, 2, 3, 4, 5}), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"src"}, transform).
		WithExecutionStrategy(pipeline.ResilientWithReplay).
		WithRestart(pipeline.RestartOptions{MaxNodeRestartAttempts: 3, MaxMaterializedItems: 1000})
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"tf"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []int{1, 2, 3, 4, 5}, sink.Items())
}

// TestEmptySourceProducesNoItems covers spec §8's boundary behavior for
// an empty source: every operator downstream observes zero items.
func TestEmptySourceProducesNoItems(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.Empty[int](ctx, "src"), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"src"}, pipeline.TransformFunc[int, int](identity[int]))
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"tf"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, sink.Items())
}

// TestSingleItemFailureSkippedProducesNoException covers spec §8's
// "single-item source with per-item failure -> retry exhausted -> Skip"
// boundary: the run succeeds and the sink sees nothing.
func TestSingleItemFailureSkippedProducesNoException(t *testing.T) {
	t.Parallel()
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", []int{42}), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"src"}, pipeline.TransformFunc[int, int](func(ctx context.Context, v int) (int, error) {
		return 0, errors.New("always fails")
	})).WithErrorHandler(pipeline.ErrorHandlerFunc(func(context.Context, string, any, error) pipeline.ErrorDecision {
		return pipeline.Skip
	}))
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"tf"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, sink.Items())
}

// TestPerItemHandlerFailRaisesNodeExecutionError covers spec §8's
// "per-item handler Fail" boundary.
func TestPerItemHandlerFailRaisesNodeExecutionError(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", []int{1}), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"src"}, pipeline.TransformFunc[int, int](func(ctx context.Context, v int) (int, error) {
		return 0, cause
	}))
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"tf"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
	runErr := r.Run(context.Background())
	require.Error(t, runErr)

	var nodeErr *pipeline.NodeExecutionError
	require.True(t, errors.As(runErr, &nodeErr), "expected a NodeExecutionError, got %v", runErr)
	assert.Equal(t, "tf", nodeErr.NodeID)
	assert.ErrorIs(t, runErr, cause)
}

// TestObserverSeesNodeLifecycleForEveryNode exercises the runner's
// OnNodeStarted/OnNodeCompleted wiring (spec §4.8, §4.9).
func TestObserverSeesNodeLifecycleForEveryNode(t *testing.T) {
	t.Parallel()
	obs := newRecordingObserver()
	b := pipeline.NewBuilder()
	pipeline.AddSource(b, "src", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
		return pipeline.FromSlice(ctx, "src", []int{1, 2, 3}), nil
	}))
	pipeline.AddTransform[int, int](b, "tf", []string{"src"}, pipeline.TransformFunc[int, int](identity[int]))
	sink := &sliceSink[int]{}
	pipeline.AddSink(b, "out", []string{"tf"}, sink)

	g, err := b.Build()
	require.NoError(t, err)
	opts := pipeline.DefaultRunnerOptions()
	opts.Observer = obs
	r := pipeline.NewRunner(g, opts)
	require.NoError(t, r.Run(context.Background()))

	for _, id := range []string{"src", "tf", "out"} {
		assert.GreaterOrEqual(t, obs.started[id], 1, "node %q never started", id)
		assert.True(t, obs.completed[id], "node %q never completed", id)
		assert.True(t, obs.success[id], "node %q reported failure", id)
	}
}
