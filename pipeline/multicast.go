package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MulticastMetrics are the counters the observer surface reads back from
// a running Multicast (spec §4.1).
type MulticastMetrics struct {
	SubscriberCount       int
	PerSubscriberCapacity int
	SubscribersCompleted  atomic.Int64
	MaxAggregateBacklog   atomic.Int64
	Faulted               atomic.Int64
}

// Multicast lets N consumers each observe the same underlying pipe, with
// per-subscriber bounded queues and backpressure: the producer suspends
// when any queue is full, so the slowest subscriber sets the pace.
type Multicast[T any] struct {
	source     Pipe[T]
	nodeID     string
	capacity   int // 0 means unbounded, clamped to DefaultMaxUnboundedBranchCapacity
	policy     QueuePolicy
	observer   Observer
	metrics    *MulticastMetrics
	mu         sync.Mutex
	queues     []chan pipeItem[T]
	detached   []bool
	started    bool
	sampleEvery time.Duration
}

// NewMulticast prepares (but does not yet start) a multicast over source
// for n subscribers.
func NewMulticast[T any](nodeID string, source Pipe[T], n int, opts BranchOptions, observer Observer) *Multicast[T] {
	cap := opts.Capacity
	if cap <= 0 {
		cap = DefaultMaxUnboundedBranchCapacity
	}
	if observer == nil {
		observer = NullObserver
	}
	m := &Multicast[T]{
		source:      source,
		nodeID:      nodeID,
		capacity:    cap,
		policy:      opts.Policy,
		observer:    observer,
		metrics:     &MulticastMetrics{SubscriberCount: n, PerSubscriberCapacity: cap},
		queues:      make([]chan pipeItem[T], n),
		detached:    make([]bool, n),
		sampleEvery: opts.MetricsSampleInterval,
	}
	for i := range m.queues {
		m.queues[i] = make(chan pipeItem[T], cap)
	}
	return m
}

// Subscriber returns the i'th consumer's Pipe. Call Start exactly once
// after acquiring all subscribers.
func (m *Multicast[T]) Subscriber(i int) Pipe[T] {
	ch := m.queues[i]
	return Pipe[T]{name: m.source.Name(), ch: ch}
}

// Metrics exposes the live counters.
func (m *Multicast[T]) Metrics() *MulticastMetrics { return m.metrics }

// Start launches the single background producer goroutine that drains
// the underlying pipe and fans each item out to every non-detached
// subscriber queue. It must be called exactly once.
func (m *Multicast[T]) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		lastSample := time.Time{}
		closeAll := func(err error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, q := range m.queues {
				if m.detached[i] || q == nil {
					continue
				}
				if err != nil {
					m.metrics.Faulted.Add(1)
					select {
					case q <- pipeItem[T]{err: err}:
					default:
					}
				}
				close(q)
				m.queues[i] = nil
			}
		}

		for {
			v, ok, err := m.source.Pull(ctx)
			if err != nil {
				closeAll(err)
				return
			}
			if !ok {
				closeAll(nil)
				return
			}
			m.deliver(ctx, v)
			if m.sampleEvery <= 0 || time.Since(lastSample) >= m.sampleEvery {
				lastSample = time.Now()
				m.emitMetrics()
			}
		}
	}()
}

func (m *Multicast[T]) deliver(ctx context.Context, v T) {
	m.mu.Lock()
	queues := make([]chan pipeItem[T], len(m.queues))
	copy(queues, m.queues)
	detached := make([]bool, len(m.detached))
	copy(detached, m.detached)
	m.mu.Unlock()

	for i, q := range queues {
		if detached[i] || q == nil {
			continue
		}
		switch m.policy {
		case DropPolicyNewest:
			select {
			case q <- pipeItem[T]{val: v}:
			default:
				m.observer.OnQueueDrop(m.nodeID, m.policy, DropNewest, &m.capacity, len(q), 1, 0, 0)
			}
		case DropPolicyOldest:
			for {
				select {
				case q <- pipeItem[T]{val: v}:
				default:
					select {
					case <-q:
						m.observer.OnQueueDrop(m.nodeID, m.policy, DropOldest, &m.capacity, len(q), 0, 1, 0)
					default:
					}
					continue
				}
				break
			}
		default: // Block: true backpressure, slowest subscriber sets the pace
			select {
			case q <- pipeItem[T]{val: v}:
			case <-ctx.Done():
			}
		}
		if int64(len(q)) > m.metrics.MaxAggregateBacklog.Load() {
			m.metrics.MaxAggregateBacklog.Store(int64(len(q)))
		}
	}
}

func (m *Multicast[T]) emitMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queues {
		if m.detached[i] || q == nil {
			continue
		}
		m.observer.OnQueueMetrics(m.nodeID, m.policy, &m.capacity, len(q), 0, 0, 0, time.Now())
	}
}

// Detach drains and detaches subscriber i's queue on cancellation; the
// producer continues serving the remaining subscribers.
func (m *Multicast[T]) Detach(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detached[i] {
		return
	}
	m.detached[i] = true
	m.metrics.SubscribersCompleted.Add(1)
	if q := m.queues[i]; q != nil {
		for {
			select {
			case <-q:
			default:
				return
			}
		}
	}
}
