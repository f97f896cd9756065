package pipeline

import (
	"context"
	"sync"
)

// MergeStrategy combines several input pipes of the same element type
// into one, per spec §4.1. Merge never copies items; it composes
// enumerators.
type MergeStrategy interface {
	Merge(ctx context.Context, outName string, inputs []AnyPipe) AnyPipe
}

// interleaveMerge delivers items in round-robin-biased, first-ready
// order; it preserves no per-source global ordering but maximizes
// throughput.
type interleaveMerge struct{}

// InterleaveMerge is the default merge strategy for multi-input nodes.
var InterleaveMerge MergeStrategy = interleaveMerge{}

func (interleaveMerge) Merge(ctx context.Context, outName string, inputs []AnyPipe) AnyPipe {
	out := New(ctx, outName, func(ctx context.Context, send func(any) bool) error {
		type msg struct {
			v   any
			err error
			ok  bool
		}
		results := make(chan msg)
		var wg sync.WaitGroup
		wg.Add(len(inputs))
		for _, in := range inputs {
			go func(in AnyPipe) {
				defer wg.Done()
				for {
					v, ok, err := in.PullAny(ctx)
					select {
					case results <- msg{v: v, err: err, ok: ok}:
					case <-ctx.Done():
						return
					}
					if err != nil || !ok {
						return
					}
				}
			}(in)
		}
		go func() {
			wg.Wait()
			close(results)
		}()
		remaining := len(inputs)
		for remaining > 0 {
			select {
			case m, open := <-results:
				if !open {
					return nil
				}
				if m.err != nil {
					return m.err
				}
				if !m.ok {
					remaining--
					continue
				}
				if !send(m.v) {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return Erase(out)
}

// concatenateMerge fully drains input i before reading input i+1,
// preserving per-source order at the cost of latency.
type concatenateMerge struct{}

// ConcatenateMerge drains inputs strictly in declaration order.
var ConcatenateMerge MergeStrategy = concatenateMerge{}

func (concatenateMerge) Merge(ctx context.Context, outName string, inputs []AnyPipe) AnyPipe {
	out := New(ctx, outName, func(ctx context.Context, send func(any) bool) error {
		for _, in := range inputs {
			for {
				v, ok, err := in.PullAny(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if !send(v) {
					return nil
				}
			}
		}
		return nil
	})
	return Erase(out)
}

// CustomMergeFunc adapts a node-supplied merge hook into a MergeStrategy.
type CustomMergeFunc func(ctx context.Context, inputs []AnyPipe) AnyPipe

func (f CustomMergeFunc) Merge(ctx context.Context, _ string, inputs []AnyPipe) AnyPipe {
	return f(ctx, inputs)
}
