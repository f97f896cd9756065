package pipeline

import "time"

// Observer is the tiny event interface the engine invokes from hot
// paths. Implementations must be thread-safe; the engine may invoke
// them from multiple goroutines concurrently.
type Observer interface {
	OnNodeStarted(nodeID string, kind NodeKind, startedAt time.Time)
	OnNodeCompleted(nodeID string, kind NodeKind, duration time.Duration, success bool, err error)
	OnRetry(nodeID string, kind RetryEventKind, attempt int, lastErr error)
	OnQueueDrop(nodeID string, policy QueuePolicy, dropKind DropKind, capacity *int, depthAfter int, droppedNewestTotal, droppedOldestTotal, enqueuedTotal int64)
	OnQueueMetrics(nodeID string, policy QueuePolicy, capacity *int, depth int, droppedNewestTotal, droppedOldestTotal, enqueuedTotal int64, at time.Time)
}

// nullObserver is a zero-cost no-op Observer; it is a process-wide
// singleton per spec §9 so choosing not to observe costs nothing.
type nullObserver struct{}

func (nullObserver) OnNodeStarted(string, NodeKind, time.Time)                         {}
func (nullObserver) OnNodeCompleted(string, NodeKind, time.Duration, bool, error)       {}
func (nullObserver) OnRetry(string, RetryEventKind, int, error)                        {}
func (nullObserver) OnQueueDrop(string, QueuePolicy, DropKind, *int, int, int64, int64, int64) {}
func (nullObserver) OnQueueMetrics(string, QueuePolicy, *int, int, int64, int64, int64, time.Time) {}

// NullObserver is the shared default Observer instance.
var NullObserver Observer = nullObserver{}

// CompositeObserver forwards every event to each child, swallowing any
// panic a misbehaving child observer raises so a bad observer never
// crashes the pipeline (spec §4.8, §7).
type CompositeObserver struct {
	children []Observer
}

// NewCompositeObserver builds a CompositeObserver over the given
// children, in call order.
func NewCompositeObserver(children ...Observer) *CompositeObserver {
	return &CompositeObserver{children: children}
}

func (c *CompositeObserver) forEach(fn func(Observer)) {
	for _, child := range c.children {
		func() {
			defer func() { recover() }()
			fn(child)
		}()
	}
}

func (c *CompositeObserver) OnNodeStarted(nodeID string, kind NodeKind, startedAt time.Time) {
	c.forEach(func(o Observer) { o.OnNodeStarted(nodeID, kind, startedAt) })
}

func (c *CompositeObserver) OnNodeCompleted(nodeID string, kind NodeKind, duration time.Duration, success bool, err error) {
	c.forEach(func(o Observer) { o.OnNodeCompleted(nodeID, kind, duration, success, err) })
}

func (c *CompositeObserver) OnRetry(nodeID string, kind RetryEventKind, attempt int, lastErr error) {
	c.forEach(func(o Observer) { o.OnRetry(nodeID, kind, attempt, lastErr) })
}

func (c *CompositeObserver) OnQueueDrop(nodeID string, policy QueuePolicy, dropKind DropKind, capacity *int, depthAfter int, droppedNewestTotal, droppedOldestTotal, enqueuedTotal int64) {
	c.forEach(func(o Observer) {
		o.OnQueueDrop(nodeID, policy, dropKind, capacity, depthAfter, droppedNewestTotal, droppedOldestTotal, enqueuedTotal)
	})
}

func (c *CompositeObserver) OnQueueMetrics(nodeID string, policy QueuePolicy, capacity *int, depth int, droppedNewestTotal, droppedOldestTotal, enqueuedTotal int64, at time.Time) {
	c.forEach(func(o Observer) {
		o.OnQueueMetrics(nodeID, policy, capacity, depth, droppedNewestTotal, droppedOldestTotal, enqueuedTotal, at)
	})
}
