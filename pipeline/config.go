package pipeline

import "time"

// BranchOptions configures the multicast wrapper installed when a node has
// more than one outgoing edge.
type BranchOptions struct {
	// Capacity is the per-subscriber queue capacity. Zero/negative means
	// unbounded, clamped internally to DefaultMaxUnboundedBranchCapacity.
	Capacity int
	// Policy selects backpressure behavior when a subscriber's queue is full.
	Policy QueuePolicy
	// MetricsSampleInterval throttles OnQueueMetrics emission; zero means
	// metrics are emitted on every delivery loop iteration. OnQueueDrop
	// is never sampled.
	MetricsSampleInterval time.Duration
}

// DefaultBranchOptions returns the engine default: unbounded (clamped),
// blocking backpressure, sampled every 250ms.
func DefaultBranchOptions() BranchOptions {
	return BranchOptions{
		Capacity:              0,
		Policy:                Block,
		MetricsSampleInterval: 250 * time.Millisecond,
	}
}

// MergeConfig selects how a node with multiple inputs combines them.
type MergeConfig struct {
	Kind   MergeKind
	Custom MergeStrategy // used when Kind == CustomMerge
}

// DefaultMergeConfig interleaves inputs for throughput.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{Kind: Interleave}
}

// Strategy resolves the configured MergeStrategy implementation.
func (c MergeConfig) Strategy() MergeStrategy {
	switch c.Kind {
	case Concatenate:
		return ConcatenateMerge
	case CustomMerge:
		return c.Custom
	default:
		return InterleaveMerge
	}
}

// RetryOptions configures per-item retry (spec §4.7(a)).
type RetryOptions struct {
	// MaxItemRetries is the total attempts allowed, 1-indexed (counting
	// the first attempt); see spec §9 OQ2, resolved here.
	MaxItemRetries int
	Backoff        BackoffStrategy
	Jitter         JitterStrategy
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	// BackoffFactor is used by LinearBackoff (multiplier per step) and
	// ExponentialBackoff (base of the exponent).
	BackoffFactor float64
}

// DefaultRetryOptions allows a single attempt (no retry) with a modest
// exponential backoff ceiling for callers who raise MaxItemRetries.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxItemRetries: 1,
		Backoff:        ExponentialBackoff,
		Jitter:         FullJitter,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		BackoffFactor:  2.0,
	}
}

func (o RetryOptions) validate() error {
	if o.MaxItemRetries <= 0 {
		return ErrInvalidRetryConfig
	}
	return nil
}

// CircuitBreakerMemoryOptions bounds the rolling-window ring buffer.
type CircuitBreakerMemoryOptions struct {
	// RingBufferCapacity bounds the number of (timestamp, outcome)
	// samples retained for RollingWindowCount/RollingWindowRate modes.
	RingBufferCapacity int
}

// DefaultCircuitBreakerMemoryOptions matches spec §5's suggested default.
func DefaultCircuitBreakerMemoryOptions() CircuitBreakerMemoryOptions {
	return CircuitBreakerMemoryOptions{RingBufferCapacity: 256}
}

// CircuitBreakerOptions configures a per-node circuit breaker (spec
// §4.7(d)).
type CircuitBreakerOptions struct {
	Enabled              bool
	Mode                 ThresholdMode
	FailureThreshold     int           // ConsecutiveCount / RollingWindowCount / Hybrid
	FailureRate          float64       // RollingWindowRate / Hybrid, in [0,1]
	MinimumSampleSize    int           // gates RollingWindowRate decisions
	RollingWindow        time.Duration
	OpenDuration         time.Duration
	// HalfOpenMaxAttempts caps the total probes a single half-open
	// episode admits; it is not replenished between probes, only on
	// the next Open->HalfOpen transition, so it should be set to at
	// least HalfOpenSuccessNeeded or the breaker can stall in HalfOpen
	// forever without reaching enough consecutive successes to close.
	HalfOpenMaxAttempts   int
	HalfOpenSuccessNeeded int
	Memory               CircuitBreakerMemoryOptions
}

// DefaultCircuitBreakerOptions disables the breaker; callers opt in.
func DefaultCircuitBreakerOptions() CircuitBreakerOptions {
	return CircuitBreakerOptions{
		Enabled:               false,
		Mode:                  ConsecutiveCount,
		FailureThreshold:      5,
		RollingWindow:         30 * time.Second,
		OpenDuration:          10 * time.Second,
		HalfOpenMaxAttempts:   1,
		HalfOpenSuccessNeeded: 1,
		Memory:                DefaultCircuitBreakerMemoryOptions(),
	}
}

// RestartOptions configures per-node restart with stream replay (spec
// §4.7(c)); only consulted when ExecutionStrategy is ResilientWithReplay.
type RestartOptions struct {
	MaxNodeRestartAttempts int
	MaxMaterializedItems   int
}

// DefaultRestartOptions allows three total attempts with a modest replay
// buffer.
func DefaultRestartOptions() RestartOptions {
	return RestartOptions{MaxNodeRestartAttempts: 3, MaxMaterializedItems: 10000}
}

// ExecutionConfig is the per-node execution configuration record (spec
// §3 NodeDefinition.executionConfig).
type ExecutionConfig struct {
	Strategy         ExecutionStrategy
	ParallelDegree   int // used when Strategy == BoundedParallel
	Retry            RetryOptions
	CircuitBreaker   CircuitBreakerOptions
	Restart          RestartOptions
	ItemTimeout      time.Duration // zero disables per-item timeouts
	ErrorHandler     ErrorHandler  // nil means the node uses the global handler
}

// DefaultExecutionConfig runs sequentially with a single attempt per item
// and the engine default (Fail) error handling.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Strategy: Sequential,
		Retry:    DefaultRetryOptions(),
		Restart:  DefaultRestartOptions(),
	}
}

// WindowOptions configures a windowed keyed aggregate node (spec §4.6).
// The windows an item is assigned to come from the Aggregator's
// WindowAssigner; the aggregate node does not read Kind, Size, Step or
// Gap, only AllowedLateness, RouteLateItems and LateItemHandler.
type WindowOptions struct {
	Kind WindowKind
	// Size is the window length for Tumbling/Sliding.
	Size time.Duration
	// Step is the slide interval for Sliding (Size/Step windows overlap
	// each item into ceil(Size/Step) windows).
	Step time.Duration
	// Gap is the session-extension gap for Session windows.
	Gap time.Duration
	// AllowedLateness bounds how far behind an item may arrive before
	// it is considered late relative to the watermark.
	AllowedLateness time.Duration
	// RouteLateItems sends late items to a side output instead of
	// dropping them when true.
	RouteLateItems bool
	// LateItemHandler receives a late item when RouteLateItems is set; a
	// nil handler with RouteLateItems true just drops the item. No
	// observer event is raised for late items.
	LateItemHandler func(nodeID string, item any)
}

// LineageOptions configures the optional lineage-metadata passthrough
// (spec §3 Item: bare T or a (T, lineageMetadata) wrapper).
type LineageOptions struct {
	Enabled bool
}
