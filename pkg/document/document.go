// Package document is the core of the collaboration engine: it mediates
// between an in-memory CRDT replica (pkg/crdt), a durable update log
// (pkg/storage), an optional REST-style sync backend (pkg/syncclient) and
// an optional realtime pub/sub transport (pkg/realtime). See Registry for
// the entry point.
package document

import (
	"context"
	"fmt"
	"sync"

	"github.com/docloom/collab-sdk/pkg/codec"
	"github.com/docloom/collab-sdk/pkg/crdt"
	"github.com/docloom/collab-sdk/pkg/events"
	"github.com/docloom/collab-sdk/pkg/logging"
	"github.com/docloom/collab-sdk/pkg/policy"
	"github.com/docloom/collab-sdk/pkg/realtime"
	"github.com/docloom/collab-sdk/pkg/storage"
	"github.com/docloom/collab-sdk/pkg/syncclient"
	"github.com/docloom/collab-sdk/pkg/taskqueue"
)

// Options configures a Registry. Storage and NewHandle are required; Sync,
// Realtime, Codec, Events, Policy and Logger fall back to sane defaults.
type Options struct {
	// Storage is the durable update log every document persists through.
	Storage storage.Adapter

	// NewHandle constructs a fresh, empty CRDT replica for a document id.
	// The registry owns the returned Handle exclusively for the lifetime
	// of that document.
	NewHandle func(id string) (crdt.Handle, error)

	// Sync is the optional push/pull backend. Nil disables all sync
	// behavior: updates are persisted and published to realtime only.
	Sync syncclient.Adapter

	// Realtime is the optional live pub/sub transport. Nil disables
	// realtime fan-out.
	Realtime realtime.Adapter

	// Codec transforms blobs before they are persisted or handed to an
	// adapter, and reverses the transform on the way back in. Defaults to
	// codec.Identity{}.
	Codec codec.Codec

	// Events receives lifecycle events for every sync pull and push and
	// every realtime publish or inbound apply; storage operations emit no
	// events. Defaults to a freshly created, unobserved bus.
	Events *events.Bus

	// Policy tunes snapshot cadence and the sync handshake. Defaults to
	// policy.Default().
	Policy policy.Sync

	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger logging.Logger
}

func (o Options) normalized() (Options, error) {
	if o.Storage == nil {
		return o, fmt.Errorf("document: Options.Storage is required")
	}
	if o.NewHandle == nil {
		return o, fmt.Errorf("document: Options.NewHandle is required")
	}
	if o.Codec == nil {
		o.Codec = codec.Identity{}
	}
	if o.Events == nil {
		o.Events = events.New()
	}
	if o.Logger == nil {
		o.Logger = logging.NoOpLogger{}
	}
	if (policy.Sync{}) == o.Policy {
		o.Policy = policy.Default()
	}
	if err := o.Policy.Validate(); err != nil {
		return o, fmt.Errorf("document: %w", err)
	}
	return o, nil
}

// ManagedDocument is the per-document runtime state: the CRDT handle, the
// snapshot/backlog bookkeeping from the data model, and the serializer
// that gives every sync-related task on this document a strict FIFO
// order. All fields below mu are touched only from tasks running on
// serializer, which is itself single-consumer — mu exists for the benefit
// of callers inspecting state (tests, diagnostics) from other goroutines.
type ManagedDocument struct {
	id       string
	crdt     crdt.Handle
	storage  storage.Adapter
	sync     syncclient.Adapter
	realtime realtime.Adapter
	codec    codec.Codec
	events   *events.Bus
	policy   policy.Sync
	log      logging.Logger
	registry *Registry

	mu                       sync.Mutex
	updatesSinceSnapshot     uint64
	bytesSinceSnapshot       uint64
	snapshotGeneration       uint64
	syncedSnapshotGeneration uint64
	isBrandNew               bool
	pendingSync              [][]byte

	serializer    *taskqueue.Queue
	realtimeUnsub realtime.Unsubscribe

	warnOnce sync.Map // method name -> struct{}, for storage.ErrUnsupported
}

func (d *ManagedDocument) warnOnceFor(method string) bool {
	_, already := d.warnOnce.LoadOrStore(method, struct{}{})
	return !already
}

// warnedMethods lists the optional storage methods that have triggered the
// warn-once-and-degrade fallback so far, for diagnostics.
func (d *ManagedDocument) warnedMethods() []string {
	var methods []string
	d.warnOnce.Range(func(key, _ interface{}) bool {
		methods = append(methods, key.(string))
		return true
	})
	return methods
}

func (d *ManagedDocument) emit(ev events.SyncEvent) {
	ev.DocumentID = d.id
	d.events.Publish(ev)
}

// Handle is the public, per-document API a host interacts with: mutate
// the CRDT, remove the document, or trigger a manual sync.
type Handle struct {
	doc *ManagedDocument
}

// ID returns the document's id.
func (h *Handle) ID() string { return h.doc.id }

// CRDT exposes the underlying replica so a host can read its current
// state or wrap it with model/schema helpers of its own; those helpers
// are outside this engine's scope.
func (h *Handle) CRDT() crdt.Handle { return h.doc.crdt }

// Mutate runs fn inside a single CRDT transaction tagged with origin, so
// every change fn makes emits as one update. Pass nil for plain local
// authorship, or a token from crdt.NewOrigin to distinguish who made the
// edit (e.g. a human vs. an automated agent) while still being treated as
// local by the dispatcher.
func (h *Handle) Mutate(origin crdt.Origin, fn func() error) error {
	return h.doc.crdt.Transact(origin, fn)
}

// Remove deletes this document from its registry and storage. The Handle
// must not be used afterward.
func (h *Handle) Remove(ctx context.Context) error {
	return h.doc.registry.Remove(ctx, h.doc.id)
}

// Close detaches this document from its registry — stopping its serializer
// and releasing its CRDT handle — without touching storage. A later
// Registry.Open for the same id rehydrates from exactly what was persisted.
// The Handle must not be used afterward.
func (h *Handle) Close() error {
	return h.doc.registry.CloseDocument(h.doc.id)
}

// Sync requests an out-of-band sync pass according to opts, in addition to
// whatever the registry already does automatically around local edits.
func (h *Handle) Sync(ctx context.Context, opts SyncOptions) error {
	return h.doc.registry.SyncNow(ctx, h.doc.id, opts)
}

// WarnedMethods lists the optional StorageAdapter methods that have
// triggered the warn-once-and-degrade fallback for this document so far, so
// a host can surface "running in degraded mode" diagnostics.
func (h *Handle) WarnedMethods() []string {
	return h.doc.warnedMethods()
}
