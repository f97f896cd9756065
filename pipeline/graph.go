package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// Edge is a directed link from one node's output to another node's
// declared input slot (spec §3). InSlot indexes the target's InputTypes;
// for Join nodes slot 0 is the left input and slot 1 the right.
type Edge struct {
	From   string
	To     string
	InSlot int
}

// PipelineGraph is the immutable, validated graph produced by
// Builder.Build() (spec §3, §4.2).
type PipelineGraph struct {
	nodes       map[string]*NodeDefinition
	nodeOrder   []string // declaration order, the order Nodes() returns
	edges       []Edge
	inEdges     map[string][]Edge
	outEdges    map[string][]Edge
	topoOrder   []string

	errorHandler ErrorHandler
	lineage      LineageOptions
	globalRetry  RetryOptions
}

// NodeByID looks up a node definition.
func (g *PipelineGraph) NodeByID(id string) (*NodeDefinition, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node definition in declaration order.
func (g *PipelineGraph) Nodes() []*NodeDefinition {
	out := make([]*NodeDefinition, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// InEdges returns nodeID's inbound edges in declaration order.
func (g *PipelineGraph) InEdges(nodeID string) []Edge { return g.inEdges[nodeID] }

// OutEdges returns nodeID's outbound edges in declaration order.
func (g *PipelineGraph) OutEdges(nodeID string) []Edge { return g.outEdges[nodeID] }

// TopologicalOrder returns node ids in Kahn order (spec §4.3).
func (g *PipelineGraph) TopologicalOrder() []string { return g.topoOrder }

// ErrorHandler returns the graph-wide default error handler.
func (g *PipelineGraph) ErrorHandler() ErrorHandler { return g.errorHandler }

// Lineage returns the graph-wide lineage configuration.
func (g *PipelineGraph) Lineage() LineageOptions { return g.lineage }

// GlobalRetryOptions returns the graph-wide retry default.
func (g *PipelineGraph) GlobalRetryOptions() RetryOptions { return g.globalRetry }

// Builder is the mutable façade that accumulates node definitions and
// edges (spec §4.2). Add* calls record the first validation error they
// hit and become no-ops afterward; Build() surfaces that error, or runs
// full structural validation if none occurred during assembly.
type Builder struct {
	nodes     map[string]*NodeDefinition
	nodeOrder []string
	edges     []Edge
	err       error

	errorHandler ErrorHandler
	lineage      LineageOptions
	globalRetry  RetryOptions
}

// NewBuilder returns an empty Builder with engine defaults.
func NewBuilder() *Builder {
	return &Builder{
		nodes:       map[string]*NodeDefinition{},
		globalRetry: DefaultRetryOptions(),
	}
}

// WithGlobalErrorHandler sets the fallback handler for nodes that
// declare none of their own.
func (b *Builder) WithGlobalErrorHandler(h ErrorHandler) *Builder {
	b.errorHandler = h
	return b
}

// WithLineage enables lineage metadata passthrough (spec §3 Item).
func (b *Builder) WithLineage(o LineageOptions) *Builder {
	b.lineage = o
	return b
}

// WithGlobalRetryOptions sets the run-wide retry default.
func (b *Builder) WithGlobalRetryOptions(o RetryOptions) *Builder {
	b.globalRetry = o
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) register(def *NodeDefinition, inputs []string) NodeHandle {
	if b.err != nil {
		return NodeHandle{b: b, id: def.ID}
	}
	if def.ID == "" {
		b.fail(fmt.Errorf("pipeline: node id must not be empty"))
		return NodeHandle{b: b, id: def.ID}
	}
	if _, exists := b.nodes[def.ID]; exists {
		b.fail(fmt.Errorf("%w: %q", ErrDuplicateNodeID, def.ID))
		return NodeHandle{b: b, id: def.ID}
	}
	def.Execution = DefaultExecutionConfig()
	def.Merge = DefaultMergeConfig()
	def.Branch = DefaultBranchOptions()
	b.nodes[def.ID] = def
	b.nodeOrder = append(b.nodeOrder, def.ID)
	for slot, in := range inputs {
		if in == def.ID {
			b.fail(fmt.Errorf("%w: %q", ErrSelfLoop, def.ID))
			continue
		}
		b.edges = append(b.edges, Edge{From: in, To: def.ID, InSlot: slot})
	}
	return NodeHandle{b: b, id: def.ID}
}

// NodeHandle configures the node most recently added to a Builder. Every
// With* method mutates the builder in place and returns the handle for
// chaining.
type NodeHandle struct {
	b  *Builder
	id string
}

func (h NodeHandle) def() *NodeDefinition { return h.b.nodes[h.id] }

// WithRetry overrides the node's per-item retry policy.
func (h NodeHandle) WithRetry(o RetryOptions) NodeHandle {
	if d := h.def(); d != nil {
		d.Execution.Retry = o
	}
	return h
}

// WithErrorHandler overrides the node's error handler.
func (h NodeHandle) WithErrorHandler(e ErrorHandler) NodeHandle {
	if d := h.def(); d != nil {
		d.Execution.ErrorHandler = e
	}
	return h
}

// WithExecutionStrategy selects Sequential, BoundedParallel or
// ResilientWithReplay (spec §4.5).
func (h NodeHandle) WithExecutionStrategy(s ExecutionStrategy) NodeHandle {
	if d := h.def(); d != nil {
		d.Execution.Strategy = s
	}
	return h
}

// WithParallelDegree sets the concurrency bound for BoundedParallel.
func (h NodeHandle) WithParallelDegree(n int) NodeHandle {
	if d := h.def(); d != nil {
		d.Execution.ParallelDegree = n
	}
	return h
}

// WithCircuitBreaker enables and configures the node's circuit breaker.
func (h NodeHandle) WithCircuitBreaker(o CircuitBreakerOptions) NodeHandle {
	if d := h.def(); d != nil {
		d.Execution.CircuitBreaker = o
	}
	return h
}

// WithRestart configures ResilientWithReplay's restart budget and
// replay buffer size.
func (h NodeHandle) WithRestart(o RestartOptions) NodeHandle {
	if d := h.def(); d != nil {
		d.Execution.Restart = o
	}
	return h
}

// WithItemTimeout bounds a single item invocation.
func (h NodeHandle) WithItemTimeout(d time.Duration) NodeHandle {
	if def := h.def(); def != nil {
		def.Execution.ItemTimeout = d
	}
	return h
}

// WithMerge overrides how multiple input edges are combined.
func (h NodeHandle) WithMerge(m MergeConfig) NodeHandle {
	if d := h.def(); d != nil {
		d.Merge = m
	}
	return h
}

// WithBranchOptions overrides the multicast branch configuration used
// when this node has more than one outgoing edge.
func (h NodeHandle) WithBranchOptions(o BranchOptions) NodeHandle {
	if d := h.def(); d != nil {
		d.Branch = o
	}
	return h
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// AddSource registers a Source node producing T.
func AddSource[T any](b *Builder, id string, src Source[T]) NodeHandle {
	def := &NodeDefinition{ID: id, DisplayName: id, Kind: SourceKind, OutputType: typeOf[T]()}
	def.buildPlan = func() NodeExecutionPlan {
		return NodeExecutionPlan{
			NodeID: id,
			Kind:   SourceKind,
			RunSource: func(ctx context.Context, pctx *PipelineContext) (AnyPipe, error) {
				p, err := src.Produce(ctx)
				if err != nil {
					return nil, err
				}
				return Erase(WithCounting(ctx, p, pctx.TotalProcessedItemsCounter())), nil
			},
		}
	}
	return b.register(def, nil)
}

// AddTransform registers an item-at-a-time Transform node over one or
// more same-typed inputs (merged per the node's MergeConfig).
func AddTransform[In, Out any](b *Builder, id string, inputs []string, t Transform[In, Out]) NodeHandle {
	def := &NodeDefinition{
		ID: id, DisplayName: id, Kind: TransformKind,
		InputTypes: repeatType(typeOf[In](), len(inputs)),
		OutputType: typeOf[Out](),
	}
	def.buildPlan = func() NodeExecutionPlan {
		return NodeExecutionPlan{
			NodeID: id,
			Kind:   TransformKind,
			RunTransform: func(ctx context.Context, in AnyPipe, pctx *PipelineContext) (AnyPipe, error) {
				typedIn := Adapt[In](ctx, id, in)
				cfg, _ := pctx.NodeExecutionOptions(id)
				out := runTransformItem(ctx, id, typedIn, cfg, pctx, t.TransformItem)
				return Erase(WithCounting(ctx, out, pctx.TotalProcessedItemsCounter())), nil
			},
		}
	}
	return b.register(def, inputs)
}

// AddStreamTransform registers a whole-stream Transform node (spec
// §4.1's StreamTransform contract); it opts out of the per-item
// retry/error-handler loop since the operator owns the whole stream.
func AddStreamTransform[In, Out any](b *Builder, id string, inputs []string, t StreamTransform[In, Out]) NodeHandle {
	def := &NodeDefinition{
		ID: id, DisplayName: id, Kind: TransformKind,
		InputTypes: repeatType(typeOf[In](), len(inputs)),
		OutputType: typeOf[Out](),
	}
	def.buildPlan = func() NodeExecutionPlan {
		return NodeExecutionPlan{
			NodeID: id,
			Kind:   TransformKind,
			RunTransform: func(ctx context.Context, in AnyPipe, pctx *PipelineContext) (AnyPipe, error) {
				typedIn := Adapt[In](ctx, id, in)
				out, err := t.TransformStream(ctx, typedIn)
				if err != nil {
					return nil, &NodeExecutionError{NodeID: id, Cause: err}
				}
				return Erase(WithCounting(ctx, out, pctx.TotalProcessedItemsCounter())), nil
			},
		}
	}
	return b.register(def, inputs)
}

// AddJoin registers a binary Join node; leftInput and rightInput feed
// slots 0 and 1 respectively.
func AddJoin[L, R, Out any](b *Builder, id, leftInput, rightInput string, j Join[L, R, Out]) NodeHandle {
	def := &NodeDefinition{
		ID: id, DisplayName: id, Kind: JoinKind,
		InputTypes: []reflect.Type{typeOf[L](), typeOf[R]()},
		OutputType: typeOf[Out](),
	}
	def.buildPlan = func() NodeExecutionPlan {
		return NodeExecutionPlan{
			NodeID: id,
			Kind:   JoinKind,
			RunJoin: func(ctx context.Context, ins []AnyPipe, pctx *PipelineContext) (AnyPipe, error) {
				if len(ins) != 2 {
					return nil, &NodeExecutionError{NodeID: id, Cause: ErrJoinArityMismatch}
				}
				left := Adapt[L](ctx, id, ins[0])
				right := Adapt[R](ctx, id, ins[1])
				out := runJoin(ctx, id, left, right, j)
				return Erase(WithCounting(ctx, out, pctx.TotalProcessedItemsCounter())), nil
			},
		}
	}
	return b.register(def, []string{leftInput, rightInput})
}

// AddAggregate registers a windowed keyed aggregation node (spec §4.6)
// over one or more same-typed inputs.
func AddAggregate[T any, K comparable, A any, R any](b *Builder, id string, inputs []string, agg Aggregator[T, K, A, R], opts WindowOptions) NodeHandle {
	def := &NodeDefinition{
		ID: id, DisplayName: id, Kind: AggregateKind,
		InputTypes: repeatType(typeOf[T](), len(inputs)),
		OutputType: typeOf[R](),
	}
	def.buildPlan = func() NodeExecutionPlan {
		return NodeExecutionPlan{
			NodeID: id,
			Kind:   AggregateKind,
			RunAggregate: func(ctx context.Context, in AnyPipe, pctx *PipelineContext) (AnyPipe, error) {
				typedIn := Adapt[T](ctx, id, in)
				cfg, _ := pctx.NodeExecutionOptions(id)
				out, err := runAggregate(ctx, id, typedIn, cfg, pctx, agg, opts)
				if err != nil {
					return nil, err
				}
				return Erase(WithCounting(ctx, out, pctx.TotalProcessedItemsCounter())), nil
			},
		}
	}
	return b.register(def, inputs)
}

// AddSink registers a Sink node terminating one or more same-typed
// inputs (merged per the node's MergeConfig).
func AddSink[T any](b *Builder, id string, inputs []string, sink Sink[T]) NodeHandle {
	def := &NodeDefinition{
		ID: id, DisplayName: id, Kind: SinkKind,
		InputTypes: repeatType(typeOf[T](), len(inputs)),
	}
	def.buildPlan = func() NodeExecutionPlan {
		return NodeExecutionPlan{
			NodeID: id,
			Kind:   SinkKind,
			RunSink: func(ctx context.Context, in AnyPipe, pctx *PipelineContext) error {
				typedIn := Adapt[T](ctx, id, in)
				return sink.Consume(ctx, typedIn)
			},
		}
	}
	return b.register(def, inputs)
}

func repeatType(t reflect.Type, n int) []reflect.Type {
	if n <= 0 {
		n = 1
	}
	out := make([]reflect.Type, n)
	for i := range out {
		out[i] = t
	}
	return out
}

// Build validates the accumulated nodes and edges and returns an
// immutable PipelineGraph (spec §4.2).
func (b *Builder) Build() (*PipelineGraph, error) {
	if b.err != nil {
		return nil, b.err
	}

	g := &PipelineGraph{
		nodes:        b.nodes,
		nodeOrder:    append([]string(nil), b.nodeOrder...),
		edges:        append([]Edge(nil), b.edges...),
		inEdges:      map[string][]Edge{},
		outEdges:     map[string][]Edge{},
		errorHandler: b.errorHandler,
		lineage:      b.lineage,
		globalRetry:  b.globalRetry,
	}
	if g.errorHandler == nil {
		g.errorHandler = FailFastHandler{}
	}
	if err := g.globalRetry.validate(); err != nil {
		return nil, fmt.Errorf("%w: global retry options", err)
	}

	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, e.To)
		}
		g.inEdges[e.To] = append(g.inEdges[e.To], e)
		g.outEdges[e.From] = append(g.outEdges[e.From], e)
	}

	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		if err := n.Execution.Retry.validate(); err != nil {
			return nil, fmt.Errorf("%w: node %q", err, id)
		}
		switch n.Kind {
		case SourceKind:
			if len(g.inEdges[id]) != 0 {
				return nil, fmt.Errorf("%w: %q", ErrSourceHasInput, id)
			}
		case SinkKind:
			if len(g.outEdges[id]) != 0 {
				return nil, fmt.Errorf("%w: %q", ErrSinkHasOutput, id)
			}
		case JoinKind:
			if len(g.inEdges[id]) != len(n.InputTypes) {
				return nil, fmt.Errorf("%w: %q wants %d inputs, got %d", ErrJoinArityMismatch, id, len(n.InputTypes), len(g.inEdges[id]))
			}
		}
		if n.Kind != SourceKind && len(g.inEdges[id]) == 0 {
			return nil, fmt.Errorf("pipeline: node %q has no inbound edges", id)
		}
	}

	for _, e := range g.edges {
		src := g.nodes[e.From]
		dst := g.nodes[e.To]
		if e.InSlot < 0 || e.InSlot >= len(dst.InputTypes) {
			return nil, fmt.Errorf("pipeline: edge %s->%s targets unknown input slot %d", e.From, e.To, e.InSlot)
		}
		want := dst.InputTypes[e.InSlot]
		if src.OutputType == nil || want == nil {
			continue
		}
		if !src.OutputType.AssignableTo(want) {
			return nil, fmt.Errorf("%w: %s (%s) -> %s slot %d (%s)", ErrTypeMismatch, e.From, src.OutputType, e.To, e.InSlot, want)
		}
	}

	order, err := kahnOrder(g.nodeOrder, g.edges)
	if err != nil {
		return nil, err
	}
	g.topoOrder = order

	if err := checkReachability(g); err != nil {
		return nil, err
	}

	return g, nil
}

func checkReachability(g *PipelineGraph) error {
	var sources, sinks []string
	for _, id := range g.nodeOrder {
		switch g.nodes[id].Kind {
		case SourceKind:
			sources = append(sources, id)
		case SinkKind:
			sinks = append(sinks, id)
		}
	}
	if len(sources) == 0 {
		return ErrEntryPointMissing
	}

	reachableFrom := func(start string) map[string]bool {
		seen := map[string]bool{start: true}
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, e := range g.outEdges[cur] {
				if !seen[e.To] {
					seen[e.To] = true
					queue = append(queue, e.To)
				}
			}
		}
		return seen
	}

	everyReachable := map[string]bool{}
	for _, s := range sources {
		for id := range reachableFrom(s) {
			everyReachable[id] = true
		}
	}
	for _, s := range sources {
		reachesSink := false
		for id := range reachableFrom(s) {
			if g.nodes[id].Kind == SinkKind {
				reachesSink = true
				break
			}
		}
		if !reachesSink {
			return fmt.Errorf("%w: %q", ErrUnreachableSource, s)
		}
	}
	for _, sink := range sinks {
		if !everyReachable[sink] {
			return fmt.Errorf("%w: %q", ErrSinkUnreachable, sink)
		}
	}
	return nil
}
