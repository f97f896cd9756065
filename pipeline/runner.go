package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallnest/npipeline/nplog"
	"github.com/smallnest/npipeline/npstore"
)

// observedPipe wraps a node's output so the runner can report
// OnNodeCompleted exactly once, when the stream the node produced is
// finally drained (successfully or not) by whatever downstream consumes
// it — which may happen well after the node's plan closure returned
// (spec §4.9 step 6d/6e, §4.8).
type observedPipe struct {
	AnyPipe
	once   sync.Once
	onDone func(err error)
}

func (o *observedPipe) PullAny(ctx context.Context) (any, bool, error) {
	v, ok, err := o.AnyPipe.PullAny(ctx)
	if !ok {
		o.once.Do(func() { o.onDone(err) })
	}
	return v, ok, err
}

// observeNode reports nodeID's completion to the observer the first
// time its output pipe is exhausted or fails.
func observeNode(observer Observer, nodeID string, kind NodeKind, startedAt time.Time, p AnyPipe) AnyPipe {
	return &observedPipe{
		AnyPipe: p,
		onDone: func(err error) {
			observer.OnNodeCompleted(nodeID, kind, time.Since(startedAt), err == nil, err)
		},
	}
}

// RunnerOptions configures a single Runner.Run call (spec §4.9).
type RunnerOptions struct {
	Observer            Observer
	DefaultErrorHandler ErrorHandler
	GlobalRetry         RetryOptions
	StateManager        npstore.Store
	DeadLetterSink      DeadLetterSink
	Logger              nplog.Logger
}

// DefaultRunnerOptions runs with NullObserver, FailFastHandler, a single
// attempt per item and no persistence backend wired.
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		Observer:            NullObserver,
		DefaultErrorHandler: FailFastHandler{},
		GlobalRetry:         DefaultRetryOptions(),
		Logger:              &nplog.NoOpLogger{},
	}
}

// Runner executes a validated PipelineGraph to completion (spec §4.9).
type Runner struct {
	graph *PipelineGraph
	opts  RunnerOptions
}

// NewRunner pairs a built graph with run options.
func NewRunner(g *PipelineGraph, opts RunnerOptions) *Runner {
	if opts.Observer == nil {
		opts.Observer = NullObserver
	}
	if opts.DefaultErrorHandler == nil {
		opts.DefaultErrorHandler = g.ErrorHandler()
	}
	if opts.Logger == nil {
		opts.Logger = &nplog.NoOpLogger{}
	}
	return &Runner{graph: g, opts: opts}
}

// Run builds each node's execution plan in topological order, wires
// multi-consumer outputs through a Multicast, drains every sink
// concurrently, and returns the first failure wrapped as a
// PipelineExecutionError unless it is already a pipeline error or a
// context cancellation (spec §7).
func (r *Runner) Run(ctx context.Context) error {
	g := r.graph
	globalRetry := r.opts.GlobalRetry
	if globalRetry.MaxItemRetries <= 0 {
		globalRetry = g.GlobalRetryOptions()
	}
	pctx := NewPipelineContext(r.opts.Observer, r.opts.DefaultErrorHandler, globalRetry)
	if r.opts.StateManager != nil {
		pctx.SetStateManager(r.opts.StateManager)
	}
	if r.opts.DeadLetterSink != nil {
		pctx.SetDeadLetterSink(r.opts.DeadLetterSink)
	}
	for _, n := range g.Nodes() {
		pctx.SetNodeExecutionOptions(n.ID, n.Execution)
		pctx.SetBranchOptions(n.ID, n.Branch)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := r.opts.Logger
	logger.Info("pipeline run starting: %d nodes", len(g.Nodes()))
	startedAt := time.Now()

	outputs := map[string]AnyPipe{}
	multicasts := map[string]*Multicast[any]{}
	nextSubscriber := map[string]int{}

	inputFor := func(from string) AnyPipe {
		if len(g.OutEdges(from)) <= 1 {
			return outputs[from]
		}
		mc, ok := multicasts[from]
		if !ok {
			branchOpts, _ := pctx.BranchOptions(from)
			typed := Adapt[any](runCtx, from, outputs[from])
			mc = NewMulticast[any](from, typed, len(g.OutEdges(from)), branchOpts, pctx.Observer())
			multicasts[from] = mc
			mc.Start(runCtx)
		}
		idx := nextSubscriber[from]
		nextSubscriber[from]++
		return Erase(mc.Subscriber(idx))
	}

	mergedInput := func(n *NodeDefinition) AnyPipe {
		edges := g.InEdges(n.ID)
		pipes := make([]AnyPipe, len(edges))
		for _, e := range edges {
			pipes[e.InSlot] = inputFor(e.From)
		}
		if len(pipes) == 1 {
			return pipes[0]
		}
		return n.Merge.Strategy().Merge(runCtx, n.ID+"-merged", pipes)
	}

	var sinkJobs []func() error

	for _, id := range g.TopologicalOrder() {
		n, _ := g.NodeByID(id)
		plan := n.Plan()
		observer := pctx.Observer()
		nodeStart := time.Now()
		observer.OnNodeStarted(id, n.Kind, nodeStart)

		switch n.Kind {
		case SourceKind:
			out, err := plan.RunSource(runCtx, pctx)
			if err != nil {
				observer.OnNodeCompleted(id, n.Kind, time.Since(nodeStart), false, err)
				return r.fail(cancel, logger, startedAt, err)
			}
			outputs[id] = observeNode(observer, id, n.Kind, nodeStart, out)

		case TransformKind:
			out, err := plan.RunTransform(runCtx, mergedInput(n), pctx)
			if err != nil {
				observer.OnNodeCompleted(id, n.Kind, time.Since(nodeStart), false, err)
				return r.fail(cancel, logger, startedAt, err)
			}
			outputs[id] = observeNode(observer, id, n.Kind, nodeStart, out)

		case AggregateKind:
			out, err := plan.RunAggregate(runCtx, mergedInput(n), pctx)
			if err != nil {
				observer.OnNodeCompleted(id, n.Kind, time.Since(nodeStart), false, err)
				return r.fail(cancel, logger, startedAt, err)
			}
			outputs[id] = observeNode(observer, id, n.Kind, nodeStart, out)

		case JoinKind:
			edges := g.InEdges(id)
			ins := make([]AnyPipe, len(edges))
			for _, e := range edges {
				ins[e.InSlot] = inputFor(e.From)
			}
			out, err := plan.RunJoin(runCtx, ins, pctx)
			if err != nil {
				observer.OnNodeCompleted(id, n.Kind, time.Since(nodeStart), false, err)
				return r.fail(cancel, logger, startedAt, err)
			}
			outputs[id] = observeNode(observer, id, n.Kind, nodeStart, out)

		case SinkKind:
			in := mergedInput(n)
			id, kind := id, n.Kind
			sinkJobs = append(sinkJobs, func() error {
				err := plan.RunSink(runCtx, in, pctx)
				observer.OnNodeCompleted(id, kind, time.Since(nodeStart), err == nil, err)
				return err
			})
		}
	}

	var (
		mu      sync.Mutex
		firstErr error
		wg      sync.WaitGroup
	)
	wg.Add(len(sinkJobs))
	for _, job := range sinkJobs {
		job := job
		go func() {
			defer wg.Done()
			if err := job(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return r.fail(cancel, logger, startedAt, firstErr)
	}

	logger.Info("pipeline run completed in %s, %d items processed",
		time.Since(startedAt), pctx.TotalProcessedItemsCounter().Total())
	return nil
}

func (r *Runner) fail(cancel context.CancelFunc, logger nplog.Logger, startedAt time.Time, err error) error {
	cancel()
	wrapped := wrapRunError(err)
	logger.Error("pipeline run failed after %s: %v", time.Since(startedAt), wrapped)
	return wrapped
}

// wrapRunError applies spec §7's wrapping rule: cancellations and
// existing pipeline errors pass through unchanged.
func wrapRunError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if codeOf(err) != "" {
		return err
	}
	return &PipelineExecutionError{Cause: err}
}
