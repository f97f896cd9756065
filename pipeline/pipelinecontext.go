package pipeline

import (
	"sync"
	"time"

	"github.com/smallnest/npipeline/npstore"
)

// PipelineContext threads run-scoped state through every node
// invocation for the lifetime of one Runner.Run call: the run's clock,
// shared resilience defaults, the observer, and handles onto the
// configured persistence backends (spec §6). Node and executor code
// read it concurrently; the handful of fields set once at Runner setup
// are written before any node goroutine starts.
type PipelineContext struct {
	values sync.Map

	observer        Observer
	defaultHandler  ErrorHandler
	breakers        *CircuitBreakerManager
	globalRetry     RetryOptions
	parallelHint    int

	nodeExecMu sync.RWMutex
	nodeExec   map[string]ExecutionConfig
	nodeBranch map[string]BranchOptions
}

const (
	pctxKeyStartTimeUTC        = "pipeline.StartTimeUtc"
	pctxKeyTotalProcessedItems = "pipeline.TotalProcessedItems"
	pctxKeyStateManager        = "pipeline.StateManager"
	pctxKeyDeadLetterSink      = "pipeline.DeadLetterSink"
)

// NewPipelineContext starts a run-scoped context. A nil observer or
// defaultHandler falls back to NullObserver / FailFastHandler.
func NewPipelineContext(observer Observer, defaultHandler ErrorHandler, globalRetry RetryOptions) *PipelineContext {
	if observer == nil {
		observer = NullObserver
	}
	if defaultHandler == nil {
		defaultHandler = FailFastHandler{}
	}
	pc := &PipelineContext{
		observer:       observer,
		defaultHandler: defaultHandler,
		breakers:       NewCircuitBreakerManager(),
		globalRetry:    globalRetry,
		nodeExec:       map[string]ExecutionConfig{},
		nodeBranch:     map[string]BranchOptions{},
	}
	pc.values.Store(pctxKeyStartTimeUTC, time.Now().UTC())
	pc.values.Store(pctxKeyTotalProcessedItems, NewStatsCounter())
	return pc
}

// StartTimeUTC reports when the run began.
func (pc *PipelineContext) StartTimeUTC() time.Time {
	v, _ := pc.values.Load(pctxKeyStartTimeUTC)
	t, _ := v.(time.Time)
	return t
}

// TotalProcessedItemsCounter is the run-wide item counter the counting
// wrapper increments on every item any node output yields (spec §4.1,
// §8 "totalItemsProcessed" invariant).
func (pc *PipelineContext) TotalProcessedItemsCounter() *StatsCounter {
	v, _ := pc.values.Load(pctxKeyTotalProcessedItems)
	c, _ := v.(*StatsCounter)
	return c
}

// Observer returns the run's Observer; never nil.
func (pc *PipelineContext) Observer() Observer { return pc.observer }

// CircuitBreakers returns the run's CircuitBreakerManager.
func (pc *PipelineContext) CircuitBreakers() *CircuitBreakerManager { return pc.breakers }

// GlobalRetryOptions returns the run-wide retry default a node falls
// back to when it declares none of its own.
func (pc *PipelineContext) GlobalRetryOptions() RetryOptions { return pc.globalRetry }

// SetStateManager installs the persistence backend used for state
// snapshots and checkpointing (spec §4.14).
func (pc *PipelineContext) SetStateManager(s npstore.Store) { pc.values.Store(pctxKeyStateManager, s) }

// StateManager returns the configured persistence backend, if any.
func (pc *PipelineContext) StateManager() (npstore.Store, bool) {
	v, ok := pc.values.Load(pctxKeyStateManager)
	if !ok {
		return nil, false
	}
	s, ok := v.(npstore.Store)
	return s, ok
}

// SetDeadLetterSink installs the run's dead-letter sink.
func (pc *PipelineContext) SetDeadLetterSink(s DeadLetterSink) {
	pc.values.Store(pctxKeyDeadLetterSink, s)
}

// DeadLetterSinkOr returns the configured sink, or fallback when none
// was set.
func (pc *PipelineContext) DeadLetterSinkOr(fallback DeadLetterSink) DeadLetterSink {
	v, ok := pc.values.Load(pctxKeyDeadLetterSink)
	if !ok {
		return fallback
	}
	s, ok := v.(DeadLetterSink)
	if !ok {
		return fallback
	}
	return s
}

// SetNodeExecutionOptions records nodeID's execution config; Runner.Run
// calls it for every node before the run starts.
func (pc *PipelineContext) SetNodeExecutionOptions(nodeID string, cfg ExecutionConfig) {
	pc.nodeExecMu.Lock()
	defer pc.nodeExecMu.Unlock()
	pc.nodeExec[nodeID] = cfg
}

// NodeExecutionOptions looks up nodeID's execution config.
func (pc *PipelineContext) NodeExecutionOptions(nodeID string) (ExecutionConfig, bool) {
	pc.nodeExecMu.RLock()
	defer pc.nodeExecMu.RUnlock()
	cfg, ok := pc.nodeExec[nodeID]
	return cfg, ok
}

// SetBranchOptions records nodeID's multicast branch configuration.
func (pc *PipelineContext) SetBranchOptions(nodeID string, opts BranchOptions) {
	pc.nodeExecMu.Lock()
	defer pc.nodeExecMu.Unlock()
	pc.nodeBranch[nodeID] = opts
}

// BranchOptions looks up nodeID's multicast branch configuration.
func (pc *PipelineContext) BranchOptions(nodeID string) (BranchOptions, bool) {
	pc.nodeExecMu.RLock()
	defer pc.nodeExecMu.RUnlock()
	opts, ok := pc.nodeBranch[nodeID]
	return opts, ok
}

// ErrorHandlerFor resolves the effective handler for a node: its own
// configured handler if any, else the run's default.
func (pc *PipelineContext) ErrorHandlerFor(cfg ExecutionConfig) ErrorHandler {
	if cfg.ErrorHandler != nil {
		return cfg.ErrorHandler
	}
	return pc.defaultHandler
}

// EffectiveRetryOptions resolves a node's retry policy: its own if it
// allows more than the trivial single attempt, else the run global.
func (pc *PipelineContext) EffectiveRetryOptions(cfg ExecutionConfig) RetryOptions {
	if cfg.Retry.MaxItemRetries > 1 {
		return cfg.Retry
	}
	return pc.globalRetry
}
