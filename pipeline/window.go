package pipeline

import "time"

// Window is a half-open time interval [Start, End) carrying accumulator
// state for one key.
type Window struct {
	Start time.Time
	End   time.Time
	Kind  WindowKind
}

// key returns a comparable value suitable for use as a map key component.
func (w Window) key() int64 { return w.Start.UnixNano()<<1 ^ w.End.UnixNano() }

// WindowAssigner computes the candidate windows an item with event time t
// belongs to, and (for Session windows) how to merge adjacent windows.
type WindowAssigner interface {
	// AssignWindows returns the windows a new observation at t falls into
	// given the windows already open for its key.
	AssignWindows(t time.Time, existing []Window) []Window
	// Merge reports whether two windows for the same key should be
	// merged into one (only Session windows merge); when true it
	// returns the merged window.
	Merge(a, b Window) (Window, bool)
}

// TumblingWindows assigns each item to exactly one fixed-size, disjoint
// window: [floor(t/size)*size, +size).
type TumblingWindows struct{ Size time.Duration }

func (t TumblingWindows) AssignWindows(at time.Time, _ []Window) []Window {
	size := t.Size
	floor := at.UnixNano() / int64(size) * int64(size)
	start := time.Unix(0, floor)
	return []Window{{Start: start, End: start.Add(size), Kind: Tumbling}}
}

func (TumblingWindows) Merge(Window, Window) (Window, bool) { return Window{}, false }

// SlidingWindows assigns each item to every overlapping window of length
// Size advancing by Step; there are ceil(Size/Step) of them.
type SlidingWindows struct {
	Size time.Duration
	Step time.Duration
}

func (s SlidingWindows) AssignWindows(at time.Time, _ []Window) []Window {
	step := int64(s.Step)
	size := int64(s.Size)
	t := at.UnixNano()
	var out []Window
	for k := t / step; ; k-- {
		start := k * step
		end := start + size
		if end <= t {
			break
		}
		out = append(out, Window{Start: time.Unix(0, start), End: time.Unix(0, end), Kind: Sliding})
	}
	return out
}

func (SlidingWindows) Merge(Window, Window) (Window, bool) { return Window{}, false }

// SessionWindows opens [t, t+gap) for a new key, extends an existing
// window whose [start, end+gap) contains t, and merges windows that
// become contiguous as a result.
type SessionWindows struct{ Gap time.Duration }

func (s SessionWindows) AssignWindows(at time.Time, existing []Window) []Window {
	for _, w := range existing {
		if !at.Before(w.Start) && at.Before(w.End.Add(s.Gap)) {
			newEnd := at.Add(s.Gap)
			if newEnd.After(w.End) {
				w.End = newEnd
			}
			return []Window{w}
		}
	}
	return []Window{{Start: at, End: at.Add(s.Gap), Kind: Session}}
}

func (s SessionWindows) Merge(a, b Window) (Window, bool) {
	if a.Start.After(b.Start) {
		a, b = b, a
	}
	// Contiguous/overlapping once b.Start falls within a's gap-extended span.
	if !b.Start.After(a.End) {
		end := a.End
		if b.End.After(end) {
			end = b.End
		}
		return Window{Start: a.Start, End: end, Kind: Session}, true
	}
	return Window{}, false
}
