package pipeline

import (
	"context"
	"sync"
)

type leftEntry[L any] struct {
	v       L
	matched bool
}

type rightEntry[R any] struct {
	v       R
	matched bool
}

// runJoin drives a binary Join (spec §4.6's sibling stateful operator,
// §6 "Join (binary)"): both sides are buffered by key as they arrive so
// a late-arriving item on either side still matches everything already
// seen on the other, and combine fires as soon as a match exists.
// Unmatched entries are offered to FromLeftOnly/FromRightOnly once both
// inputs are exhausted, for outer-join support.
func runJoin[L, R, Out any](ctx context.Context, nodeID string, left Pipe[L], right Pipe[R], j Join[L, R, Out]) Pipe[Out] {
	return New(ctx, nodeID, func(ctx context.Context, send func(Out) bool) error {
		type tagged struct {
			side int
			l    L
			r    R
			ok   bool
			err  error
		}
		ch := make(chan tagged)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for {
				v, ok, err := left.Pull(ctx)
				select {
				case ch <- tagged{side: 0, l: v, ok: ok, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil || !ok {
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for {
				v, ok, err := right.Pull(ctx)
				select {
				case ch <- tagged{side: 1, r: v, ok: ok, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil || !ok {
					return
				}
			}
		}()
		go func() {
			wg.Wait()
			close(ch)
		}()

		leftBuf := map[any][]*leftEntry[L]{}
		rightBuf := map[any][]*rightEntry[R]{}

		for t := range ch {
			if t.err != nil {
				return t.err
			}
			switch t.side {
			case 0:
				if !t.ok {
					continue
				}
				k := j.KeyLeft(t.l)
				le := &leftEntry[L]{v: t.l}
				for _, re := range rightBuf[k] {
					out, err := j.Combine(t.l, re.v)
					if err != nil {
						return err
					}
					re.matched = true
					le.matched = true
					if !send(out) {
						return nil
					}
				}
				leftBuf[k] = append(leftBuf[k], le)
			case 1:
				if !t.ok {
					continue
				}
				k := j.KeyRight(t.r)
				re := &rightEntry[R]{v: t.r}
				for _, le := range leftBuf[k] {
					out, err := j.Combine(le.v, t.r)
					if err != nil {
						return err
					}
					le.matched = true
					re.matched = true
					if !send(out) {
						return nil
					}
				}
				rightBuf[k] = append(rightBuf[k], re)
			}
		}

		for _, entries := range leftBuf {
			for _, le := range entries {
				if le.matched {
					continue
				}
				if out, ok := j.FromLeftOnly(le.v); ok {
					if !send(out) {
						return nil
					}
				}
			}
		}
		for _, entries := range rightBuf {
			for _, re := range entries {
				if re.matched {
					continue
				}
				if out, ok := j.FromRightOnly(re.v); ok {
					if !send(out) {
						return nil
					}
				}
			}
		}
		return nil
	})
}
