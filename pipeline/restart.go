package pipeline

import (
	"context"
	"fmt"
)

// runResilientTransform implements the ResilientWithReplay execution
// strategy (spec §4.7(c)): the whole upstream is materialized into a
// bounded replay buffer, then driven through invoke up to
// MaxNodeRestartAttempts times. A node exception (a per-item Fail
// decision surviving retry and the error handler) discards the
// attempt's output and re-drives the buffer from the beginning;
// downstream only ever observes the surviving attempt's output, so no
// duplicates cross a restart boundary.
func runResilientTransform[In, Out any](
	ctx context.Context,
	nodeID string,
	in Pipe[In],
	cfg ExecutionConfig,
	pctx *PipelineContext,
	invoke func(context.Context, In) (Out, error),
) Pipe[Out] {
	return New(ctx, nodeID, func(ctx context.Context, send func(Out) bool) error {
		maxBuffer := cfg.Restart.MaxMaterializedItems
		if maxBuffer <= 0 {
			maxBuffer = DefaultRestartOptions().MaxMaterializedItems
		}

		buf := make([]In, 0, 64)
		if err := in.Each(ctx, func(v In) error {
			if len(buf) >= maxBuffer {
				return fmt.Errorf("pipeline: node %q replay buffer exceeded %d items", nodeID, maxBuffer)
			}
			buf = append(buf, v)
			return nil
		}); err != nil {
			return err
		}

		maxAttempts := cfg.Restart.MaxNodeRestartAttempts
		if maxAttempts <= 0 {
			maxAttempts = DefaultRestartOptions().MaxNodeRestartAttempts
		}
		observer := pctx.Observer()

		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			results := make([]Out, 0, len(buf))
			failed := false
			for _, item := range buf {
				out, decision, ierr := processItem(ctx, nodeID, item, cfg, pctx, invoke)
				if ierr != nil {
					lastErr = ierr
					failed = true
					break
				}
				if decision == Skip || decision == DeadLetter {
					continue
				}
				results = append(results, out)
			}
			if !failed {
				for _, out := range results {
					if !send(out) {
						return nil
					}
				}
				return nil
			}
			if attempt == maxAttempts {
				break
			}
			observer.OnRetry(nodeID, NodeRestart, attempt, lastErr)
		}
		return &RetryExhausted{NodeID: nodeID, AttemptCount: maxAttempts, Cause: lastErr}
	})
}
