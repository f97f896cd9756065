package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// SkipKey is the sentinel an Aggregator.GetKey implementation returns
// (when K is instantiated as `any`) to drop an item without
// accumulating it (spec §4.6, §9 OQ resolution).
var SkipKey any = "pipeline.SkipKey"

type windowKey struct {
	start int64
	end   int64
}

func keyOf(w Window) windowKey { return windowKey{w.Start.UnixNano(), w.End.UnixNano()} }

type aggCell[A any] struct {
	window Window
	acc    A
}

// runAggregate drives a windowed keyed aggregation per spec §4.6: items
// are assigned to one or more windows by key, accumulated with the
// node's retry/error-handling policy, and a window's result is emitted
// once the watermark passes its end. The watermark advances per key,
// not globally, so a burst of activity on one key cannot retroactively
// mark an unrelated key's window late. Remaining windows are flushed,
// regardless of watermark, once the input is exhausted.
func runAggregate[T any, K comparable, A any, R any](
	ctx context.Context,
	nodeID string,
	in Pipe[T],
	cfg ExecutionConfig,
	pctx *PipelineContext,
	agg Aggregator[T, K, A, R],
	opts WindowOptions,
) (Pipe[R], error) {
	assigner := agg.WindowAssigner()

	out := New(ctx, nodeID, func(ctx context.Context, send func(R) bool) error {
		state := map[K]map[windowKey]*aggCell[A]{}
		watermarks := map[K]time.Time{}

		fire := func(ready []struct {
			k K
			c *aggCell[A]
		}) bool {
			sort.Slice(ready, func(i, j int) bool {
				if !ready[i].c.window.End.Equal(ready[j].c.window.End) {
					return ready[i].c.window.End.Before(ready[j].c.window.End)
				}
				return fmt.Sprintf("%v", ready[i].k) < fmt.Sprintf("%v", ready[j].k)
			})
			for _, r := range ready {
				if !send(agg.GetResult(r.c.acc)) {
					return false
				}
				delete(state[r.k], keyOf(r.c.window))
				if len(state[r.k]) == 0 {
					delete(state, r.k)
				}
			}
			return true
		}

		err := in.Each(ctx, func(item T) error {
			k := agg.GetKey(item)
			if any(k) == SkipKey {
				return nil
			}
			t, ok := agg.EventTime(item)
			if !ok {
				t = time.Now()
			}

			lateness := agg.AllowedLateness()
			if opts.AllowedLateness > lateness {
				lateness = opts.AllowedLateness
			}
			keyWatermark := watermarks[k]
			if !keyWatermark.IsZero() && t.Before(keyWatermark.Add(-lateness)) {
				if opts.RouteLateItems && opts.LateItemHandler != nil {
					opts.LateItemHandler(nodeID, item)
				}
				return nil
			}

			cells := state[k]
			if cells == nil {
				cells = map[windowKey]*aggCell[A]{}
				state[k] = cells
			}
			existing := make([]Window, 0, len(cells))
			for _, c := range cells {
				existing = append(existing, c.window)
			}

			for _, w := range assigner.AssignWindows(t, existing) {
				cell := cells[keyOf(w)]
				if cell == nil {
					// look for an existing window this one merges with
					// (session-window extension changes its key).
					for wk, c := range cells {
						if merged, ok := assigner.Merge(c.window, w); ok {
							delete(cells, wk)
							c.window = merged
							cells[keyOf(merged)] = c
							cell = c
							break
						}
					}
				}
				if cell == nil {
					cell = &aggCell[A]{window: w, acc: agg.CreateAccumulator()}
					cells[keyOf(w)] = cell
				}

				invoke := func(ctx context.Context, item T) (A, error) {
					return agg.Accumulate(cell.acc, item)
				}
				next, decision, ierr := processItem(ctx, nodeID, item, cfg, pctx, invoke)
				if ierr != nil {
					return ierr
				}
				if decision == Skip || decision == DeadLetter {
					continue
				}
				cell.acc = next
			}

			if newWatermark := t.Add(-lateness); newWatermark.After(watermarks[k]) {
				watermarks[k] = newWatermark
			}

			var ready []struct {
				k K
				c *aggCell[A]
			}
			for key, cells := range state {
				wm := watermarks[key]
				for _, c := range cells {
					if !c.window.End.After(wm) {
						ready = append(ready, struct {
							k K
							c *aggCell[A]
						}{key, c})
					}
				}
			}
			if len(ready) > 0 && !fire(ready) {
				return context.Canceled
			}
			return nil
		})
		if err != nil {
			return err
		}

		var remaining []struct {
			k K
			c *aggCell[A]
		}
		for key, cells := range state {
			for _, c := range cells {
				remaining = append(remaining, struct {
					k K
					c *aggCell[A]
				}{key, c})
			}
		}
		fire(remaining)
		return nil
	})
	return out, nil
}
