package pipeline

import (
	"context"
	"fmt"
)

// DefaultMaxUnboundedBranchCapacity is the ceiling an "unbounded" branch
// capacity is clamped to (spec §9 open question: the clamp must be
// documented rather than silent).
const DefaultMaxUnboundedBranchCapacity = 4096

// Pipe is an immutable handle to a lazy, typed, single-consumer sequence
// of items. It is produced by exactly one node and is exclusively owned
// by whichever code pulls from it; enumerating a Pipe from two goroutines
// concurrently is undefined. Nodes with multiple downstream consumers are
// transparently wrapped in a Multicast by the executor instead.
type Pipe[T any] struct {
	name string
	ch   <-chan pipeItem[T]
}

type pipeItem[T any] struct {
	val T
	err error
}

// Name returns the stream name used for diagnostics.
func (p Pipe[T]) Name() string { return p.name }

// Pull retrieves the next item. ok is false when the stream is exhausted
// (err is nil) or when it failed (err is non-nil). Pull blocks until an
// item is available, the stream ends, or ctx is done.
func (p Pipe[T]) Pull(ctx context.Context) (v T, ok bool, err error) {
	select {
	case item, open := <-p.ch:
		if !open {
			return v, false, nil
		}
		if item.err != nil {
			return v, false, item.err
		}
		return item.val, true, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Each drains the pipe, calling fn for every item until exhaustion,
// cancellation or the first error (including fn's own error).
func (p Pipe[T]) Each(ctx context.Context, fn func(T) error) error {
	for {
		v, ok, err := p.Pull(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// Collect drains the pipe into a slice. Intended for tests and small
// finite streams.
func (p Pipe[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	err := p.Each(ctx, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// New constructs a Pipe by running produce in a background goroutine.
// produce calls send for each item it yields; send returns false once the
// consumer side has gone away (ctx done), at which point produce should
// stop. If produce returns a non-nil error, it is delivered as the final
// item and the stream ends.
func New[T any](ctx context.Context, name string, produce func(ctx context.Context, send func(T) bool) error) Pipe[T] {
	ch := make(chan pipeItem[T])
	go func() {
		defer close(ch)
		send := func(v T) bool {
			select {
			case ch <- pipeItem[T]{val: v}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, send); err != nil {
			select {
			case ch <- pipeItem[T]{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return Pipe[T]{name: name, ch: ch}
}

// FromSlice builds a finite Pipe that replays a slice verbatim.
func FromSlice[T any](ctx context.Context, name string, items []T) Pipe[T] {
	return New(ctx, name, func(_ context.Context, send func(T) bool) error {
		for _, v := range items {
			if !send(v) {
				return nil
			}
		}
		return nil
	})
}

// Empty returns a Pipe that yields nothing.
func Empty[T any](ctx context.Context, name string) Pipe[T] {
	return FromSlice[T](ctx, name, nil)
}

// AnyPipe is the generics-erased form of Pipe[T] used internally by the
// execution plan compiler and executor so the hot path performs no
// per-item reflection beyond the single checked cast at a typed boundary
// (spec §9 "generics erasure").
type AnyPipe interface {
	Name() string
	PullAny(ctx context.Context) (any, bool, error)
}

type anyPipeAdapter[T any] struct{ p Pipe[T] }

func (a anyPipeAdapter[T]) Name() string { return a.p.Name() }

func (a anyPipeAdapter[T]) PullAny(ctx context.Context) (any, bool, error) {
	return a.p.Pull(ctx)
}

// Erase hides a Pipe[T]'s element type behind AnyPipe.
func Erase[T any](p Pipe[T]) AnyPipe { return anyPipeAdapter[T]{p: p} }

// Adapt wraps a dynamically-typed AnyPipe in a lazy casting enumerator
// that performs a checked cast per item. A cast failure surfaces as a
// diagnostic error naming the expected/actual element types and pipeName.
func Adapt[T any](ctx context.Context, pipeName string, p AnyPipe) Pipe[T] {
	return New(ctx, p.Name(), func(ctx context.Context, send func(T) bool) error {
		for {
			v, ok, err := p.PullAny(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			tv, castOK := v.(T)
			if !castOK {
				var zero T
				return fmt.Errorf("pipeline: node %q expected pipe element type %T, got %T", pipeName, zero, v)
			}
			if !send(tv) {
				return nil
			}
		}
	})
}
