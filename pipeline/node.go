package pipeline

import (
	"context"
	"reflect"
	"time"
)

// Source produces the initial Pipe for a graph entry point.
type Source[T any] interface {
	Produce(ctx context.Context) (Pipe[T], error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc[T any] func(ctx context.Context) (Pipe[T], error)

func (f SourceFunc[T]) Produce(ctx context.Context) (Pipe[T], error) { return f(ctx) }

// Transform maps one input item to one output item.
type Transform[In, Out any] interface {
	TransformItem(ctx context.Context, item In) (Out, error)
}

// TransformFunc adapts a plain function to Transform.
type TransformFunc[In, Out any] func(ctx context.Context, item In) (Out, error)

func (f TransformFunc[In, Out]) TransformItem(ctx context.Context, item In) (Out, error) {
	return f(ctx, item)
}

// StreamTransform maps an entire input Pipe to an output Pipe, for
// operators that need cross-item state not covered by Aggregator (e.g.
// batching). Declaring StreamTransform instead of Transform opts a node
// out of the per-item retry/error-handler loop; the operator owns its own
// error handling for the whole stream.
type StreamTransform[In, Out any] interface {
	TransformStream(ctx context.Context, in Pipe[In]) (Pipe[Out], error)
}

// StreamTransformFunc adapts a plain function to StreamTransform.
type StreamTransformFunc[In, Out any] func(ctx context.Context, in Pipe[In]) (Pipe[Out], error)

func (f StreamTransformFunc[In, Out]) TransformStream(ctx context.Context, in Pipe[In]) (Pipe[Out], error) {
	return f(ctx, in)
}

// Join combines two input streams into one, keyed by the respective
// selectors. FromLeftOnly/FromRightOnly are the outer-join hooks for
// items left unmatched once both inputs are exhausted; returning
// ok=false drops the unmatched item.
type Join[L, R, Out any] interface {
	KeyLeft(L) any
	KeyRight(R) any
	Combine(L, R) (Out, error)
	FromLeftOnly(L) (Out, bool)
	FromRightOnly(R) (Out, bool)
}

// Aggregator is the contract for a windowed keyed aggregate node (spec
// §4.6, §6). K must be comparable; returning the SkipKey sentinel (when
// K is instantiated as `any`) drops the item.
type Aggregator[T any, K comparable, A any, R any] interface {
	GetKey(item T) K
	CreateAccumulator() A
	Accumulate(acc A, item T) (A, error)
	GetResult(acc A) R
	EventTime(item T) (time.Time, bool) // ok=false falls back to processing time
	WindowAssigner() WindowAssigner
	AllowedLateness() time.Duration
}

// Sink terminates a chain by consuming its input Pipe to completion.
type Sink[T any] interface {
	Consume(ctx context.Context, in Pipe[T]) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc[T any] func(ctx context.Context, in Pipe[T]) error

func (f SinkFunc[T]) Consume(ctx context.Context, in Pipe[T]) error { return f(ctx, in) }

// NodeExecutionPlan is the generics-erased, per-kind execution closure the
// compiler produces for a node (spec §4.4). Exactly one Run* field is
// populated, selected by Kind.
type NodeExecutionPlan struct {
	NodeID      string
	Kind        NodeKind
	Cardinality Cardinality

	RunSource    func(ctx context.Context, pctx *PipelineContext) (AnyPipe, error)
	RunTransform func(ctx context.Context, in AnyPipe, pctx *PipelineContext) (AnyPipe, error)
	RunJoin      func(ctx context.Context, ins []AnyPipe, pctx *PipelineContext) (AnyPipe, error)
	RunAggregate func(ctx context.Context, in AnyPipe, pctx *PipelineContext) (AnyPipe, error)
	RunSink      func(ctx context.Context, in AnyPipe, pctx *PipelineContext) error
}

// NodeDefinition is the immutable, build-time description of a node
// (spec §3). Instances are created only by Builder.
type NodeDefinition struct {
	ID          string
	DisplayName string
	Kind        NodeKind

	InputTypes []reflect.Type // ordered; empty for Source
	OutputType reflect.Type   // nil for Sink

	Execution ExecutionConfig
	Merge     MergeConfig
	Branch    BranchOptions

	// buildPlan is the opaque factory erasing this node's generics; it
	// closes over the user-supplied node value captured at Builder.AddX
	// time.
	buildPlan func() NodeExecutionPlan
}

// Plan invokes the node's factory to produce its erased execution plan.
func (n NodeDefinition) Plan() NodeExecutionPlan { return n.buildPlan() }
