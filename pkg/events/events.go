// Package events is the engine's observability fan-out: every sync pull and
// push and every realtime publish or inbound apply emits a SyncEvent (the
// document engine emits no storage-channel events), and callers subscribe to
// watch a document's lifecycle (for UI spinners, admin dashboards, or
// tests) without reaching into engine internals. It is a narrowed,
// single-purpose descendant of the teacher's general EventBusImpl: one
// event type instead of arbitrary payloads, but the same worker-pool,
// subscribe/publish/close shape.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Direction is which participant originated a sync event.
type Direction string

const (
	DirectionOutbound Direction = "outbound" // local -> remote
	DirectionInbound  Direction = "inbound"  // remote -> local
)

// Phase marks where in an operation's lifecycle the event was raised.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Channel identifies which adapter the event concerns.
type Channel string

const (
	ChannelStorage  Channel = "storage"
	ChannelSync     Channel = "sync"
	ChannelRealtime Channel = "realtime"
)

// SyncEvent reports a single storage, sync or realtime operation against a
// document.
type SyncEvent struct {
	// ID uniquely identifies this event instance, for callers that log or
	// correlate events across a pipeline rather than just react to them.
	ID              string
	DocumentID      string
	Channel         Channel
	Direction       Direction
	Phase           Phase
	IsSnapshot      bool
	RequestSnapshot bool
	Bytes           int
	Err             error
	Timestamp       time.Time
}

// Handler receives published events. It must not block for long; Bus runs
// handlers on a single delivery worker fed by a bounded queue, and drops
// events rather than let a slow subscriber apply backpressure to the
// document engine.
type Handler func(ctx context.Context, event SyncEvent)

// Subscription identifies a registered handler for later Unsubscribe.
type Subscription uint64

// Bus fans SyncEvents out to subscribers and optionally mirrors counts into
// Prometheus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Subscription]Handler
	nextID uint64

	queue   chan SyncEvent
	closing chan struct{}
	wg      sync.WaitGroup

	metrics *metrics
}

type metrics struct {
	events  *prometheus.CounterVec
	dropped prometheus.Counter
}

// Option configures a Bus.
type Option func(*Bus)

// WithPrometheus registers (or reuses) counters on reg. Passing the same
// *prometheus.Registry to multiple Buses is safe: a Bus whose counters are
// already registered on reg reuses the existing ones. Any other
// registration error panics.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(b *Bus) {
		m := &metrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "docloom",
				Subsystem: "collab",
				Name:      "sync_events_total",
				Help:      "Count of sync lifecycle events by channel, direction and phase.",
			}, []string{"channel", "direction", "phase"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "docloom",
				Subsystem: "collab",
				Name:      "sync_events_dropped_total",
				Help:      "Count of sync events dropped because the bus's queue was full.",
			}),
		}
		if reg != nil {
			if err := reg.Register(m.events); err != nil {
				are, ok := err.(prometheus.AlreadyRegisteredError)
				if !ok {
					panic(err)
				}
				m.events = are.ExistingCollector.(*prometheus.CounterVec)
			}
			if err := reg.Register(m.dropped); err != nil {
				are, ok := err.(prometheus.AlreadyRegisteredError)
				if !ok {
					panic(err)
				}
				m.dropped = are.ExistingCollector.(prometheus.Counter)
			}
		}
		b.metrics = m
	}
}

// WithBufferSize overrides the default queue depth of 256.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan SyncEvent, n)
		}
	}
}

// New starts a Bus with a single delivery worker, mirroring the teacher's
// single-goroutine-per-consumer preference over an unbounded fan-out.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[Subscription]Handler),
		queue:   make(chan SyncEvent, 256),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.closing:
			for {
				select {
				case ev := <-b.queue:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev SyncEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	ctx := context.Background()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

// Subscribe registers handler for every published event.
func (b *Bus) Subscribe(handler Handler) Subscription {
	id := Subscription(atomic.AddUint64(&b.nextID, 1))
	b.mu.Lock()
	b.subs[id] = handler
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish enqueues ev for delivery, stamping Timestamp if unset. If the
// internal queue is full the event is dropped and counted rather than
// blocking the caller, since SyncEvents are diagnostic, not authoritative.
func (b *Bus) Publish(ev SyncEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if b.metrics != nil {
		b.metrics.events.WithLabelValues(string(ev.Channel), string(ev.Direction), string(ev.Phase)).Inc()
	}
	select {
	case b.queue <- ev:
	default:
		if b.metrics != nil {
			b.metrics.dropped.Inc()
		}
	}
}

// Close stops the delivery worker after draining what's already queued.
func (b *Bus) Close() error {
	select {
	case <-b.closing:
		return fmt.Errorf("events: bus already closed")
	default:
		close(b.closing)
	}
	b.wg.Wait()
	return nil
}
