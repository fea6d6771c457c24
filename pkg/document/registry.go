package document

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docloom/collab-sdk/pkg/crdt"
	"github.com/docloom/collab-sdk/pkg/errs"
	"github.com/docloom/collab-sdk/pkg/logging"
	"github.com/docloom/collab-sdk/pkg/taskqueue"
)

// Registry is the DocumentRegistry: it holds at most one ManagedDocument
// per id and mediates opening, removing and manually syncing documents.
type Registry struct {
	mu     sync.Mutex
	docs   map[string]*ManagedDocument
	opts   Options
	closed bool
}

// NewRegistry validates opts and returns an empty Registry.
func NewRegistry(opts Options) (*Registry, error) {
	norm, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	return &Registry{docs: make(map[string]*ManagedDocument), opts: norm}, nil
}

// Open hydrates and returns the ManagedDocument for id, or returns the
// already-open one if id is already loaded. Idempotent.
func (r *Registry) Open(ctx context.Context, id string) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errs.ErrManagerClosed
	}
	if existing, ok := r.docs[id]; ok {
		r.mu.Unlock()
		return &Handle{doc: existing}, nil
	}
	r.mu.Unlock()

	doc, err := r.hydrate(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		doc.detach()
		return nil, errs.ErrManagerClosed
	}
	if existing, ok := r.docs[id]; ok {
		// Lost a race against a concurrent Open for the same id; keep the
		// winner, discard our own hydration.
		doc.detach()
		return &Handle{doc: existing}, nil
	}
	r.docs[id] = doc
	return &Handle{doc: doc}, nil
}

// Remove detaches id's CRDT handler, cancels its realtime subscription and
// deletes its storage record.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	doc, ok := r.docs[id]
	if !ok {
		r.mu.Unlock()
		return errs.NewContractViolation(id, errs.ErrNotLoaded)
	}
	delete(r.docs, id)
	r.mu.Unlock()

	doc.detach()
	if err := r.opts.Storage.Remove(ctx, id); err != nil {
		return errs.NewStorageError(id, err)
	}
	return nil
}

// CloseDocument detaches id's CRDT handler and realtime subscription and
// forgets the in-memory entry, but — unlike Remove — leaves its storage
// record untouched, so a later Open rehydrates from exactly where this
// left off.
func (r *Registry) CloseDocument(id string) error {
	r.mu.Lock()
	doc, ok := r.docs[id]
	if !ok {
		r.mu.Unlock()
		return errs.NewContractViolation(id, errs.ErrNotLoaded)
	}
	delete(r.docs, id)
	r.mu.Unlock()

	doc.detach()
	return nil
}

// SyncNow fails with a ContractViolation if id is unknown; otherwise it
// delegates to the document's SyncOrchestrator.
func (r *Registry) SyncNow(ctx context.Context, id string, opts SyncOptions) error {
	r.mu.Lock()
	doc, ok := r.docs[id]
	r.mu.Unlock()
	if !ok {
		return errs.NewContractViolation(id, errs.ErrNotLoaded)
	}
	return doc.syncNow(ctx, opts)
}

// Close detaches every open document. In-flight sync tasks are allowed to
// finish; their results are discarded since the documents are gone.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	docs := make([]*ManagedDocument, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	r.docs = make(map[string]*ManagedDocument)
	r.mu.Unlock()

	// Detaching fans out across documents: each one stops its own
	// serializer and closes its own CRDT handle independently, so there is
	// no reason to do it one at a time on a registry with many open
	// documents.
	var g errgroup.Group
	for _, d := range docs {
		d := d
		g.Go(func() error {
			d.detach()
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// detach unsubscribes realtime, stops the serializer and closes the CRDT
// handle. It does not touch storage — Remove does that separately.
func (d *ManagedDocument) detach() {
	d.mu.Lock()
	unsub := d.realtimeUnsub
	d.realtimeUnsub = nil
	d.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	d.serializer.Close()
	d.crdt.Close()
}

// hydrate implements §4.2's construction sequence.
func (r *Registry) hydrate(ctx context.Context, id string) (*ManagedDocument, error) {
	handle, err := r.opts.NewHandle(id)
	if err != nil {
		return nil, fmt.Errorf("document: new crdt handle for %q: %w", id, err)
	}

	doc := &ManagedDocument{
		id:       id,
		crdt:     handle,
		storage:  r.opts.Storage,
		sync:     r.opts.Sync,
		realtime: r.opts.Realtime,
		codec:    r.opts.Codec,
		events:   r.opts.Events,
		policy:   r.opts.Policy,
		log:      r.opts.Logger.WithFields(logging.String("document_id", id)),
		registry: r,
	}
	doc.serializer = taskqueue.New(r.opts.Policy.TaskQueueSize)

	// 1. Assemble stored state. All three reads happen regardless of
	// whether later ones turn out to be empty.
	snap, err := doc.loadSnapshot(ctx)
	if err != nil {
		doc.serializer.Close()
		return nil, errs.NewStorageError(id, err)
	}
	updates, err := r.opts.Storage.GetUpdates(ctx, id)
	if err != nil {
		doc.serializer.Close()
		return nil, errs.NewStorageError(id, err)
	}
	pending, err := doc.loadPendingSync(ctx)
	if err != nil {
		doc.serializer.Close()
		return nil, errs.NewStorageError(id, err)
	}

	doc.isBrandNew = snap == nil && len(updates) == 0 && len(pending) == 0
	if snap != nil {
		doc.snapshotGeneration = snap.SnapshotGeneration
		doc.syncedSnapshotGeneration = snap.SyncedSnapshotGeneration
	}
	doc.pendingSync = pending

	// 2. Apply snapshot then log entries, all tagged STORAGE so the
	// dispatcher treats them as already durable.
	if snap != nil && len(snap.Snapshot) > 0 {
		decoded, err := doc.codec.Decode(snap.Snapshot)
		if err != nil {
			doc.serializer.Close()
			return nil, errs.NewDecodeError(id, err)
		}
		if err := handle.Apply(decoded, crdt.OriginStorage); err != nil {
			doc.serializer.Close()
			return nil, fmt.Errorf("document: apply snapshot for %q: %w", id, err)
		}
	}
	for _, u := range updates {
		decoded, err := doc.codec.Decode(u)
		if err != nil {
			doc.serializer.Close()
			return nil, errs.NewDecodeError(id, err)
		}
		if err := handle.Apply(decoded, crdt.OriginStorage); err != nil {
			doc.serializer.Close()
			return nil, fmt.Errorf("document: replay update for %q: %w", id, err)
		}
	}

	// 5. Register the dispatcher before any pull/realtime traffic can
	// arrive, so nothing slips past unclassified.
	handle.OnUpdate(doc.dispatch)

	// 3. Initial pull, if configured. Failure surfaces via events/log but
	// never blocks document opening.
	if doc.sync != nil {
		if err := doc.initialPull(ctx); err != nil {
			doc.log.Warn("initial pull failed, continuing with hydrated state", logging.Err(err))
		}
	}

	// 6. Subscribe realtime.
	if doc.realtime != nil {
		unsub, err := doc.realtime.Subscribe(ctx, id, doc.onRealtimeUpdate)
		if err != nil {
			doc.log.Warn("realtime subscribe failed", logging.Err(err))
		} else {
			doc.realtimeUnsub = unsub
		}
	}

	// 7. Replay the pending-sync backlog, one outgoing-sequence task per
	// entry, in order.
	if len(doc.pendingSync) > 0 && doc.sync != nil {
		for range doc.pendingSync {
			doc.serializer.Enqueue(context.Background(), func(ctx context.Context) error {
				return doc.runOutgoingSequence(ctx)
			})
		}
	}

	return doc, nil
}
