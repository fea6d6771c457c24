package document

import (
	"context"

	"github.com/docloom/collab-sdk/pkg/crdt"
	"github.com/docloom/collab-sdk/pkg/logging"
)

// This file implements the UpdateDispatcher (spec §4.3): the synchronous
// hook the CRDT handle invokes after every committed transaction, whatever
// triggered it. It never does I/O itself; it classifies the update by
// origin and enqueues exactly the follow-up work that origin calls for onto
// the document's serializer, preserving the commit order.

// dispatch is registered as the Handle's sole UpdateHandler in hydrate.
func (d *ManagedDocument) dispatch(update []byte, origin crdt.Origin) {
	switch origin {
	case crdt.OriginStorage:
		// Replayed from the update log or a snapshot during hydration; it is
		// already durable and already synced. Nothing to do.
		return
	case crdt.OriginSync:
		// Just pulled from the remote. Durable once appended, but must never
		// re-enter pendingSync or it would echo straight back out.
		d.enqueuePersistOnly(update)
	case crdt.OriginRealtime:
		// Arrived over the live transport. Persist for crash recovery but
		// never pending-sync or re-publish it.
		d.enqueuePersistOnly(update)
	default:
		// Local authorship: persist, mark pending, and kick the outgoing
		// sequence (push + publish) once it is durable; without a sync
		// adapter, only publish.
		d.enqueueLocalUpdate(update)
	}
}

// enqueuePersistOnly handles SYNC- and REALTIME-origin updates: append to
// the log only, never touching pendingSync or triggering an outgoing push.
func (d *ManagedDocument) enqueuePersistOnly(update []byte) {
	encoded, err := d.codec.Encode(update)
	if err != nil {
		d.log.Error("encode inbound update for persistence failed", logging.Err(err))
		return
	}
	d.serializer.Enqueue(context.Background(), func(ctx context.Context) error {
		return d.append(ctx, encoded, false)
	})
}

// enqueueLocalUpdate handles locally authored updates (I1, I2): append and
// mark pending first, then run the outgoing sequence so the push/publish
// never race ahead of the update being durable. Without a sync adapter the
// update is published to realtime as soon as it is durable.
func (d *ManagedDocument) enqueueLocalUpdate(update []byte) {
	encoded, err := d.codec.Encode(update)
	if err != nil {
		d.log.Error("encode local update for persistence failed", logging.Err(err))
		return
	}
	d.serializer.Enqueue(context.Background(), func(ctx context.Context) error {
		if err := d.append(ctx, encoded, true); err != nil {
			return err
		}
		if d.sync == nil {
			d.publishRealtime(ctx, encoded)
			return nil
		}
		return d.runOutgoingSequence(ctx)
	})
}
