// Package pipeline implements NPipeline: a library for composing and
// executing streaming dataflow pipelines as typed directed acyclic graphs
// of nodes connected by pipes.
//
// A pipeline ingests items from one or more sources, transforms them
// through operators (stateless map, stateful keyed aggregation over time
// windows, binary joins, batching) and delivers results to sinks. The
// engine runs such a graph once, end-to-end, with bounded memory,
// structured failure handling and observable progress.
//
// # Core concepts
//
// A Pipe[T] is a lazy, typed, single-consumer sequence of items. A
// Builder accumulates NodeDefinitions and edges and produces an immutable
// PipelineGraph on Build(). A Runner builds each node's
// NodeExecutionPlan in topological order, drains every sink concurrently,
// and cancels the run's context when it returns, whatever the outcome.
//
// # Example
//
//	b := pipeline.NewBuilder()
//	pipeline.AddSource(b, "nums", pipeline.SourceFunc[int](func(ctx context.Context) (pipeline.Pipe[int], error) {
//		return pipeline.FromSlice(ctx, "nums", []int{1, 2, 3}), nil
//	}))
//	pipeline.AddTransform(b, "double", []string{"nums"}, pipeline.TransformFunc[int, int](func(ctx context.Context, v int) (int, error) {
//		return v * 2, nil
//	}))
//	pipeline.AddSink(b, "collect", []string{"double"}, mySink)
//	g, err := b.Build()
//	r := pipeline.NewRunner(g, pipeline.DefaultRunnerOptions())
//	err = r.Run(context.Background())
//
// # Resilience
//
// Per-item retry, a pluggable error handler (Skip/Retry/DeadLetter/Fail),
// per-node restart with replay, and a rolling-window circuit breaker
// compose to form the resilience layer described in retry.go,
// errorhandler.go, restart.go and circuitbreaker.go.
package pipeline
