package pipeline

import (
	"context"
	"sync/atomic"
)

// StatsCounter is the process-wide (per-run) item counter referenced by
// spec §4.1's counting wrapper and §8's "totalItemsProcessed" invariant.
type StatsCounter struct {
	total atomic.Int64
}

// NewStatsCounter returns a zeroed counter.
func NewStatsCounter() *StatsCounter { return &StatsCounter{} }

// Add increments the counter by n and returns the new total.
func (c *StatsCounter) Add(n int64) int64 { return c.total.Add(n) }

// Total returns the current count.
func (c *StatsCounter) Total() int64 { return c.total.Load() }

// WithCounting wraps p so every yielded item increments counter by one.
// Every node output is wrapped this way by the executor.
func WithCounting[T any](ctx context.Context, p Pipe[T], counter *StatsCounter) Pipe[T] {
	return New(ctx, p.Name(), func(ctx context.Context, send func(T) bool) error {
		return p.Each(ctx, func(v T) error {
			counter.Add(1)
			if !send(v) {
				return context.Canceled
			}
			return nil
		})
	})
}
