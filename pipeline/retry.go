package pipeline

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// retryOutcome is the result of driving an item through retryItem: either
// Success, or a final Decision (with the last error) once retries and
// the error handler have both run.
type retryOutcome struct {
	Success  bool
	Decision ErrorDecision
	Err      error
}

// computeDelay returns the unjittered backoff delay before attempt+1
// (attempt is 1-indexed, counting the attempt that just failed).
func computeDelay(o RetryOptions, attempt int) time.Duration {
	switch o.Backoff {
	case LinearBackoff:
		return clampDelay(o, time.Duration(float64(o.InitialDelay)*(1+o.BackoffFactor*float64(attempt-1))))
	case ExponentialBackoff:
		return clampDelay(o, time.Duration(float64(o.InitialDelay)*math.Pow(o.BackoffFactor, float64(attempt-1))))
	default: // FixedBackoff
		return clampDelay(o, o.InitialDelay)
	}
}

func clampDelay(o RetryOptions, d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// applyJitter randomizes a computed delay per o.Jitter. prev is the
// previous attempt's post-jitter delay, consulted only by
// DecorrelatedJitter.
func applyJitter(o RetryOptions, d, prev time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	switch o.Jitter {
	case FullJitter:
		return time.Duration(rand.Int63n(int64(d) + 1))
	case EqualJitter:
		half := d / 2
		return half + time.Duration(rand.Int63n(int64(d-half)+1))
	case DecorrelatedJitter:
		base := prev
		if base <= 0 {
			base = o.InitialDelay
		}
		upper := base * 3
		if o.MaxDelay > 0 && upper > o.MaxDelay {
			upper = o.MaxDelay
		}
		if upper <= o.InitialDelay {
			return o.InitialDelay
		}
		return o.InitialDelay + time.Duration(rand.Int63n(int64(upper-o.InitialDelay)+1))
	default: // NoJitter
		return d
	}
}

// sleepBackoff blocks for the jittered delay before the next attempt,
// or returns ctx.Err() if cancelled first.
func sleepBackoff(ctx context.Context, o RetryOptions, attempt int, prevDelay time.Duration) (time.Duration, error) {
	d := applyJitter(o, computeDelay(o, attempt), prevDelay)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return d, nil
	case <-ctx.Done():
		return d, ctx.Err()
	}
}

// retryItem drives fn against item up to opts.MaxItemRetries total
// attempts (1-indexed, spec §9 OQ2), sleeping a jittered backoff between
// attempts and emitting OnRetry before each retry. Once attempts are
// exhausted it consults handler for a final decision; a handler Retry
// decision is treated as Fail, since the retry budget it would consume
// has already been spent.
func retryItem[T any](
	ctx context.Context,
	nodeID string,
	item T,
	opts RetryOptions,
	handler ErrorHandler,
	observer Observer,
	fn func(ctx context.Context, item T) error,
) retryOutcome {
	if observer == nil {
		observer = NullObserver
	}
	if handler == nil {
		handler = FailFastHandler{}
	}

	var lastErr error
	var prevDelay time.Duration
	maxAttempts := opts.MaxItemRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx, item)
		if err == nil {
			return retryOutcome{Success: true}
		}
		if ctx.Err() != nil {
			return retryOutcome{Decision: Fail, Err: ctx.Err()}
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		observer.OnRetry(nodeID, ItemRetry, attempt, err)
		d, werr := sleepBackoff(ctx, opts, attempt, prevDelay)
		if werr != nil {
			return retryOutcome{Decision: Fail, Err: werr}
		}
		prevDelay = d
	}

	decision := handler.Handle(ctx, nodeID, item, lastErr)
	if decision == Retry {
		decision = Fail
	}
	return retryOutcome{Decision: decision, Err: lastErr}
}
