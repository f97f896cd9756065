package pipeline

import (
	"context"
	"sync"
	"time"
)

// resolveBreaker returns the node's CircuitBreaker if configured, else nil.
func resolveBreaker(cfg ExecutionConfig, pctx *PipelineContext, nodeID string) *CircuitBreaker {
	if !cfg.CircuitBreaker.Enabled {
		return nil
	}
	return pctx.CircuitBreakers().For(nodeID, cfg.CircuitBreaker)
}

// callGuarded applies the circuit breaker and item timeout around a
// single invocation (spec §4.7(d), §5 "Timeouts").
func callGuarded(ctx context.Context, cfg ExecutionConfig, breaker *CircuitBreaker, fn func(context.Context) error) error {
	if breaker != nil {
		if err := breaker.Allow(time.Now()); err != nil {
			return err
		}
	}
	callCtx := ctx
	if cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.ItemTimeout)
		defer cancel()
	}
	err := fn(callCtx)
	if breaker != nil {
		breaker.RecordResult(time.Now(), err == nil)
	}
	return err
}

// finalizeRetryOutcome turns an exhausted retryOutcome into the
// item-loop's next action: Skip/DeadLetter continue the stream, Fail
// returns a NodeExecutionError that aborts it (spec §4.7(b)).
func finalizeRetryOutcome[T any](ctx context.Context, nodeID string, item T, outcome retryOutcome, pctx *PipelineContext) (ErrorDecision, error) {
	switch outcome.Decision {
	case Skip:
		return Skip, nil
	case DeadLetter:
		sink := pctx.DeadLetterSinkOr(NoOpDeadLetterSink)
		_ = sink.Record(ctx, nodeID, item, outcome.Err)
		return DeadLetter, nil
	default:
		return Fail, &NodeExecutionError{NodeID: nodeID, Cause: outcome.Err}
	}
}

// proceed is the decision processItem reports for an item that
// succeeded; it is none of the ErrorHandler decisions, so the item loop
// emits the produced value.
const proceed ErrorDecision = -1

// processItem drives one item through retry, circuit breaker and error
// handling, returning the produced value and what the item loop should
// do next.
func processItem[In, Out any](
	ctx context.Context,
	nodeID string,
	item In,
	cfg ExecutionConfig,
	pctx *PipelineContext,
	invoke func(context.Context, In) (Out, error),
) (Out, ErrorDecision, error) {
	var out Out
	breaker := resolveBreaker(cfg, pctx, nodeID)
	handler := pctx.ErrorHandlerFor(cfg)
	retryOpts := pctx.EffectiveRetryOptions(cfg)
	observer := pctx.Observer()

	outcome := retryItem[In](ctx, nodeID, item, retryOpts, handler, observer, func(ctx context.Context, item In) error {
		return callGuarded(ctx, cfg, breaker, func(ctx context.Context) error {
			v, err := invoke(ctx, item)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	if outcome.Success {
		return out, proceed, nil
	}
	decision, err := finalizeRetryOutcome(ctx, nodeID, item, outcome, pctx)
	return out, decision, err
}

// runTransformItem drives a Transform's item loop under the node's
// configured execution strategy (spec §4.5 step 3).
func runTransformItem[In, Out any](
	ctx context.Context,
	nodeID string,
	in Pipe[In],
	cfg ExecutionConfig,
	pctx *PipelineContext,
	invoke func(context.Context, In) (Out, error),
) Pipe[Out] {
	switch cfg.Strategy {
	case BoundedParallel:
		return runBoundedParallel(ctx, nodeID, in, cfg.ParallelDegree, func(ctx context.Context, v In) (Out, ErrorDecision, error) {
			return processItem(ctx, nodeID, v, cfg, pctx, invoke)
		})
	case ResilientWithReplay:
		return runResilientTransform(ctx, nodeID, in, cfg, pctx, invoke)
	default:
		return runSequentialTransform(ctx, nodeID, in, cfg, pctx, invoke)
	}
}

// runSequentialTransform processes items one at a time, in input order
// (spec §4.5, §5 "Ordering guarantees").
func runSequentialTransform[In, Out any](
	ctx context.Context,
	nodeID string,
	in Pipe[In],
	cfg ExecutionConfig,
	pctx *PipelineContext,
	invoke func(context.Context, In) (Out, error),
) Pipe[Out] {
	return New(ctx, nodeID, func(ctx context.Context, send func(Out) bool) error {
		return in.Each(ctx, func(v In) error {
			out, decision, err := processItem(ctx, nodeID, v, cfg, pctx, invoke)
			if err != nil {
				return err
			}
			if decision == Skip || decision == DeadLetter {
				return nil
			}
			if !send(out) {
				return context.Canceled
			}
			return nil
		})
	})
}

type itemOutcome[Out any] struct {
	val Out
	err error
}

// runBoundedParallel processes up to degree items concurrently; output
// order does not reflect input order (spec §4.5, §5).
func runBoundedParallel[In, Out any](
	ctx context.Context,
	nodeID string,
	in Pipe[In],
	degree int,
	step func(context.Context, In) (Out, ErrorDecision, error),
) Pipe[Out] {
	if degree <= 0 {
		degree = 1
	}
	return New(ctx, nodeID, func(outerCtx context.Context, send func(Out) bool) error {
		innerCtx, cancel := context.WithCancel(outerCtx)
		defer cancel()

		jobs := make(chan In)
		results := make(chan itemOutcome[Out])
		var workers sync.WaitGroup
		workers.Add(degree)
		for i := 0; i < degree; i++ {
			go func() {
				defer workers.Done()
				for v := range jobs {
					out, decision, err := step(innerCtx, v)
					if err != nil {
						select {
						case results <- itemOutcome[Out]{err: err}:
						case <-innerCtx.Done():
						}
						return
					}
					if decision == Skip || decision == DeadLetter {
						continue
					}
					select {
					case results <- itemOutcome[Out]{val: out}:
					case <-innerCtx.Done():
						return
					}
				}
			}()
		}

		feedErr := make(chan error, 1)
		go func() {
			defer close(jobs)
			feedErr <- in.Each(innerCtx, func(v In) error {
				select {
				case jobs <- v:
					return nil
				case <-innerCtx.Done():
					return innerCtx.Err()
				}
			})
		}()

		go func() {
			workers.Wait()
			close(results)
		}()

		for r := range results {
			if r.err != nil {
				return r.err
			}
			if !send(r.val) {
				return nil
			}
		}
		return <-feedErr
	})
}
