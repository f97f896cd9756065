package pipeline

import (
	"fmt"
	"sync"
	"time"
)

type cbSample struct {
	at      time.Time
	success bool
}

// CircuitBreaker guards one node against repeatedly calling a
// persistently failing dependency (spec §4.7(d)). It is scoped per
// node and safe for concurrent use by that node's item loop.
type CircuitBreaker struct {
	nodeID string
	opts   CircuitBreakerOptions

	mu               sync.Mutex
	state            CircuitState
	consecutiveFails int
	openedAt         time.Time
	halfOpenAttempts int
	halfOpenSuccess  int
	ring             []cbSample
	ringCap          int
	ringHead         int
}

// NewCircuitBreaker builds a CircuitBreaker in the Closed state.
func NewCircuitBreaker(nodeID string, opts CircuitBreakerOptions) *CircuitBreaker {
	capacity := opts.Memory.RingBufferCapacity
	if capacity <= 0 {
		capacity = DefaultCircuitBreakerMemoryOptions().RingBufferCapacity
	}
	return &CircuitBreaker{nodeID: nodeID, opts: opts, ring: make([]cbSample, 0, capacity), ringCap: capacity}
}

// Allow reports whether a call may proceed. Open transitions to
// HalfOpen once OpenDuration has elapsed; HalfOpen admits at most
// HalfOpenMaxAttempts probes in total per half-open episode.
func (cb *CircuitBreaker) Allow(now time.Time) error {
	if !cb.opts.Enabled {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		if now.Sub(cb.openedAt) < cb.opts.OpenDuration {
			return &CircuitBreakerTripped{NodeID: cb.nodeID, Threshold: cb.thresholdDescription()}
		}
		cb.state = HalfOpen
		cb.halfOpenAttempts = 0
		cb.halfOpenSuccess = 0
	case HalfOpen:
		if cb.halfOpenAttempts >= cb.opts.HalfOpenMaxAttempts {
			return &CircuitBreakerTripped{NodeID: cb.nodeID, Threshold: cb.thresholdDescription()}
		}
	}
	if cb.state == HalfOpen {
		cb.halfOpenAttempts++
	}
	return nil
}

// RecordResult feeds back the outcome of a call that Allow permitted.
func (cb *CircuitBreaker) RecordResult(now time.Time, success bool) {
	if !cb.opts.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.record(now, success)

	switch cb.state {
	case HalfOpen:
		if success {
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.opts.HalfOpenSuccessNeeded {
				cb.state = Closed
				cb.consecutiveFails = 0
				cb.ring = cb.ring[:0]
				cb.ringHead = 0
			}
		} else {
			cb.state = Open
			cb.openedAt = now
		}
	case Closed:
		if success {
			cb.consecutiveFails = 0
		} else {
			cb.consecutiveFails++
			if cb.shouldTrip(now) {
				cb.state = Open
				cb.openedAt = now
			}
		}
	}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) record(now time.Time, success bool) {
	if cb.ringCap == 0 {
		return
	}
	if len(cb.ring) < cb.ringCap {
		cb.ring = append(cb.ring, cbSample{at: now, success: success})
		return
	}
	cb.ring[cb.ringHead] = cbSample{at: now, success: success}
	cb.ringHead = (cb.ringHead + 1) % cb.ringCap
}

func (cb *CircuitBreaker) windowSamples(now time.Time) (total, failures int) {
	for _, s := range cb.ring {
		if s.at.IsZero() {
			continue
		}
		if cb.opts.RollingWindow > 0 && now.Sub(s.at) > cb.opts.RollingWindow {
			continue
		}
		total++
		if !s.success {
			failures++
		}
	}
	return total, failures
}

func (cb *CircuitBreaker) shouldTrip(now time.Time) bool {
	switch cb.opts.Mode {
	case RollingWindowCount:
		_, failures := cb.windowSamples(now)
		return failures >= cb.opts.FailureThreshold
	case RollingWindowRate:
		total, failures := cb.windowSamples(now)
		if total < cb.opts.MinimumSampleSize {
			return false
		}
		return float64(failures)/float64(total) >= cb.opts.FailureRate
	case Hybrid:
		total, failures := cb.windowSamples(now)
		if total < cb.opts.MinimumSampleSize {
			return cb.consecutiveFails >= cb.opts.FailureThreshold
		}
		return cb.consecutiveFails >= cb.opts.FailureThreshold ||
			float64(failures)/float64(total) >= cb.opts.FailureRate
	default: // ConsecutiveCount
		return cb.consecutiveFails >= cb.opts.FailureThreshold
	}
}

func (cb *CircuitBreaker) thresholdDescription() string {
	switch cb.opts.Mode {
	case RollingWindowCount:
		return fmt.Sprintf("%d failures per %s", cb.opts.FailureThreshold, cb.opts.RollingWindow)
	case RollingWindowRate:
		return fmt.Sprintf("%.0f%% failure rate over %d+ samples", cb.opts.FailureRate*100, cb.opts.MinimumSampleSize)
	case Hybrid:
		return fmt.Sprintf("%d consecutive or %.0f%% rolling", cb.opts.FailureThreshold, cb.opts.FailureRate*100)
	default:
		return fmt.Sprintf("%d consecutive failures", cb.opts.FailureThreshold)
	}
}

// CircuitBreakerManager owns one CircuitBreaker per node, created
// lazily on first use (spec §6 PipelineContext.CircuitBreakerManager).
type CircuitBreakerManager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager returns an empty manager.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: map[string]*CircuitBreaker{}}
}

// For returns the CircuitBreaker for nodeID, creating it with opts on
// first access.
func (m *CircuitBreakerManager) For(nodeID string, opts CircuitBreakerOptions) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[nodeID]; ok {
		return cb
	}
	cb := NewCircuitBreaker(nodeID, opts)
	m.breakers[nodeID] = cb
	return cb
}
