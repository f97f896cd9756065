package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/npipeline/pipeline"
)

func unixSec(s int64) time.Time { return time.Unix(s, 0).UTC() }

func TestTumblingWindowsAssignsOneDisjointWindow(t *testing.T) {
	t.Parallel()
	a := pipeline.TumblingWindows{Size: 60 * time.Second}

	ws := a.AssignWindows(unixSec(0), nil)
	require.Len(t, ws, 1)
	assert.True(t, ws[0].Start.Equal(unixSec(0)))
	assert.True(t, ws[0].End.Equal(unixSec(60)))

	ws = a.AssignWindows(unixSec(59), nil)
	require.Len(t, ws, 1)
	assert.True(t, ws[0].Start.Equal(unixSec(0)))

	ws = a.AssignWindows(unixSec(60), nil)
	require.Len(t, ws, 1)
	assert.True(t, ws[0].Start.Equal(unixSec(60)))
	assert.True(t, ws[0].End.Equal(unixSec(120)))
}

func TestTumblingWindowsNeverMerge(t *testing.T) {
	t.Parallel()
	a := pipeline.TumblingWindows{Size: time.Minute}
	_, merged := a.Merge(pipeline.Window{}, pipeline.Window{})
	assert.False(t, merged)
}

func TestSlidingWindowsOverlap(t *testing.T) {
	t.Parallel()
	// Size=60s, Step=20s: every item falls into three overlapping windows.
	a := pipeline.SlidingWindows{Size: 60 * time.Second, Step: 20 * time.Second}
	ws := a.AssignWindows(unixSec(100), nil)
	require.Len(t, ws, 3)
	for _, w := range ws {
		assert.True(t, !unixSec(100).Before(w.Start) && unixSec(100).Before(w.End),
			"item at t=100 must fall within every window it was assigned to, got [%s,%s)", w.Start, w.End)
	}
}

func TestSessionWindowsExtendWithinGap(t *testing.T) {
	t.Parallel()
	s := pipeline.SessionWindows{Gap: 10 * time.Second}

	first := s.AssignWindows(unixSec(0), nil)
	require.Len(t, first, 1)
	assert.True(t, first[0].Start.Equal(unixSec(0)))
	assert.True(t, first[0].End.Equal(unixSec(10)))

	// Arrives within the gap of the open session: extends it in place.
	extended := s.AssignWindows(unixSec(5), first)
	require.Len(t, extended, 1)
	assert.True(t, extended[0].Start.Equal(unixSec(0)))
	assert.True(t, extended[0].End.Equal(unixSec(15)))

	// Arrives after the gap has elapsed: opens a brand new session.
	fresh := s.AssignWindows(unixSec(100), extended)
	require.Len(t, fresh, 1)
	assert.True(t, fresh[0].Start.Equal(unixSec(100)))
}

func TestSessionWindowsMergeContiguous(t *testing.T) {
	t.Parallel()
	s := pipeline.SessionWindows{Gap: 10 * time.Second}
	a := pipeline.Window{Start: unixSec(0), End: unixSec(10)}
	b := pipeline.Window{Start: unixSec(8), End: unixSec(25)}

	merged, ok := s.Merge(a, b)
	require.True(t, ok)
	assert.True(t, merged.Start.Equal(unixSec(0)))
	assert.True(t, merged.End.Equal(unixSec(25)))

	// Far enough apart that their gap-extended spans never touch.
	c := pipeline.Window{Start: unixSec(100), End: unixSec(110)}
	_, ok = s.Merge(a, c)
	assert.False(t, ok)
}
