package pipeline_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/npipeline/pipeline"
)

// TestCircuitBreakerLifecycle is spec §8 scenario 6: consecutive-count
// trip, timed half-open probe, recovery, and half-open regression.
func TestCircuitBreakerLifecycle(t *testing.T) {
	t.Parallel()
	opts := pipeline.DefaultCircuitBreakerOptions()
	opts.Enabled = true
	opts.Mode = pipeline.ConsecutiveCount
	opts.FailureThreshold = 2
	opts.OpenDuration = 50 * time.Millisecond
	// HalfOpenMaxAttempts bounds how many probes a single half-open
	// episode admits in total (it is not reset between probes, only on
	// a fresh Open->HalfOpen transition), so it must be at least
	// HalfOpenSuccessNeeded or the breaker can never collect enough
	// consecutive successes to close.
	opts.HalfOpenMaxAttempts = 2
	opts.HalfOpenSuccessNeeded = 2

	cb := pipeline.NewCircuitBreaker("guarded", opts)
	require.Equal(t, pipeline.Closed, cb.State())

	now := time.Now()
	require.NoError(t, cb.Allow(now))
	cb.RecordResult(now, false)
	require.Equal(t, pipeline.Closed, cb.State(), "one failure must not trip a threshold-2 breaker")

	now = now.Add(time.Millisecond)
	require.NoError(t, cb.Allow(now))
	cb.RecordResult(now, false)
	assert.Equal(t, pipeline.Open, cb.State(), "two consecutive failures must trip the breaker")

	// Still within OpenDuration: calls are rejected outright.
	now = now.Add(10 * time.Millisecond)
	err := cb.Allow(now)
	require.Error(t, err)
	var tripped *pipeline.CircuitBreakerTripped
	require.True(t, errors.As(err, &tripped))
	assert.Equal(t, "guarded", tripped.NodeID)

	// Past OpenDuration: Allow transitions to HalfOpen and admits a probe.
	now = now.Add(60 * time.Millisecond)
	require.NoError(t, cb.Allow(now))
	assert.Equal(t, pipeline.HalfOpen, cb.State())

	// A HalfOpen probe that fails snaps straight back to Open.
	cb.RecordResult(now, false)
	assert.Equal(t, pipeline.Open, cb.State())

	// Reopen, wait out the window again, then succeed enough times to close.
	now = now.Add(60 * time.Millisecond)
	require.NoError(t, cb.Allow(now))
	assert.Equal(t, pipeline.HalfOpen, cb.State())
	cb.RecordResult(now, true)
	assert.Equal(t, pipeline.HalfOpen, cb.State(), "needs two successes before closing")

	now = now.Add(time.Millisecond)
	require.NoError(t, cb.Allow(now))
	cb.RecordResult(now, true)
	assert.Equal(t, pipeline.Closed, cb.State())
}

func TestCircuitBreakerDisabledAlwaysAllows(t *testing.T) {
	t.Parallel()
	cb := pipeline.NewCircuitBreaker("n", pipeline.DefaultCircuitBreakerOptions())
	for i := 0; i < 100; i++ {
		require.NoError(t, cb.Allow(time.Now()))
		cb.RecordResult(time.Now(), false)
	}
	assert.Equal(t, pipeline.Closed, cb.State())
}

func TestCircuitBreakerRollingWindowRate(t *testing.T) {
	t.Parallel()
	opts := pipeline.CircuitBreakerOptions{
		Enabled:               true,
		Mode:                  pipeline.RollingWindowRate,
		FailureRate:           0.5,
		MinimumSampleSize:     4,
		RollingWindow:         time.Second,
		OpenDuration:          time.Second,
		HalfOpenMaxAttempts:   1,
		HalfOpenSuccessNeeded: 1,
		Memory:                pipeline.DefaultCircuitBreakerMemoryOptions(),
	}
	cb := pipeline.NewCircuitBreaker("rate", opts)
	now := time.Now()

	// Below MinimumSampleSize: never trips even at 100% failure.
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow(now))
		cb.RecordResult(now, false)
	}
	assert.Equal(t, pipeline.Closed, cb.State())

	// 4th sample crosses MinimumSampleSize with a 100% failure rate.
	require.NoError(t, cb.Allow(now))
	cb.RecordResult(now, false)
	assert.Equal(t, pipeline.Open, cb.State())
}
