package document

import (
	"context"

	"github.com/docloom/collab-sdk/pkg/crdt"
	"github.com/docloom/collab-sdk/pkg/errs"
	"github.com/docloom/collab-sdk/pkg/events"
	"github.com/docloom/collab-sdk/pkg/logging"
)

// This file implements the SyncOrchestrator (§4.5) and the outbound half of
// the RealtimeCoordinator (§4.6). Most functions here run from within a task
// already executing on the document's serializer and do not acquire it
// themselves. The exceptions: initialPull runs during hydration, before the
// document is registered; onRealtimeUpdate runs on the realtime adapter's
// goroutine; and syncNow enqueues its own task on the serializer.

// SyncOptions parameterizes a manual sync requested via Registry.SyncNow.
type SyncOptions struct {
	// Pull runs the state-vector pull before anything else.
	Pull bool
	// Push runs the snapshot-sync handshake once, then pushes pending-sync
	// entries head first until the backlog is empty. The pull-before-push
	// step is not repeated for each entry.
	Push bool
	// ForceSnapshot stores a fresh local snapshot regardless of the
	// snapshot_every policy thresholds.
	ForceSnapshot bool
}

func (d *ManagedDocument) pullInto(ctx context.Context, stateVector []byte, requestSnapshot bool) (bool, error) {
	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionInbound, Phase: events.PhaseStarted, RequestSnapshot: requestSnapshot})
	result, err := d.sync.Pull(ctx, d.id, stateVector, requestSnapshot)
	if err != nil {
		wrapped := errs.NewSyncTransportError(d.id, err, false)
		d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionInbound, Phase: events.PhaseFailed, Err: wrapped})
		return false, wrapped
	}

	gotSnapshot := len(result.Snapshot) > 0
	if gotSnapshot {
		decoded, err := d.codec.Decode(result.Snapshot)
		if err != nil {
			de := errs.NewDecodeError(d.id, err)
			d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionInbound, Phase: events.PhaseFailed, IsSnapshot: true, Err: de})
			return false, de
		}
		if err := d.crdt.Apply(decoded, crdt.OriginSync); err != nil {
			return false, err
		}
	} else {
		for _, u := range result.Updates {
			decoded, err := d.codec.Decode(u)
			if err != nil {
				de := errs.NewDecodeError(d.id, err)
				d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionInbound, Phase: events.PhaseFailed, Err: de})
				return false, de
			}
			if err := d.crdt.Apply(decoded, crdt.OriginSync); err != nil {
				return false, err
			}
		}
	}

	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionInbound, Phase: events.PhaseSucceeded, IsSnapshot: gotSnapshot, Bytes: len(result.Snapshot)})
	return gotSnapshot, nil
}

// initialPull is step 3 of hydration: a brand-new document requests a full
// snapshot unless policy says otherwise; a resumed document pulls
// incrementally from its current state vector. isBrandNew always clears on
// a successful pull. It only marks a local snapshot synced when the pull
// actually returned one from the server: those bytes are already what the
// server holds, so there is nothing left to push back for that generation.
// Anything else — a resumed document's incremental pull, or a brand-new
// pull that came back empty because the server has nothing yet either —
// leaves the snapshot generations untouched, so the first local mutation's
// outgoing sequence runs the ordinary snapshot-sync handshake.
func (d *ManagedDocument) initialPull(ctx context.Context) error {
	wasBrandNew := d.isBrandNew
	requestSnapshot := wasBrandNew && d.policy.SnapshotSync.RequestOnNewDocument
	var stateVector []byte
	if !wasBrandNew || !requestSnapshot {
		sv, err := d.crdt.StateVector()
		if err != nil {
			return err
		}
		stateVector = sv
	}
	gotSnapshot, err := d.pullInto(ctx, stateVector, requestSnapshot)
	if err != nil {
		return err
	}
	d.isBrandNew = false
	if requestSnapshot && gotSnapshot {
		return d.storeSnapshot(ctx, true)
	}
	return nil
}

// syncSnapshotIfNeeded is the snapshot-sync handshake (§4.5 step 2).
func (d *ManagedDocument) syncSnapshotIfNeeded(ctx context.Context) error {
	gen, synced := d.generations()
	if gen == 0 {
		if err := d.storeSnapshot(ctx, false); err != nil {
			return err
		}
		gen, synced = d.generations()
	}
	if gen <= synced {
		return nil
	}
	if !d.policy.SnapshotSync.Send && synced > 0 {
		// Re-sends are suppressed once the first snapshot has gone out.
		return nil
	}

	state, err := d.crdt.EncodeState()
	if err != nil {
		return err
	}
	encoded, err := d.codec.Encode(state)
	if err != nil {
		return errs.NewDecodeError(d.id, err)
	}

	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseStarted, IsSnapshot: true, Bytes: len(encoded)})
	if _, err := d.sync.Push(ctx, d.id, encoded, true); err != nil {
		wrapped := errs.NewSyncTransportError(d.id, err, true)
		d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseFailed, IsSnapshot: true, Err: wrapped})
		return wrapped
	}
	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseSucceeded, IsSnapshot: true, Bytes: len(encoded)})

	d.mu.Lock()
	d.syncedSnapshotGeneration = d.snapshotGeneration
	synced = d.syncedSnapshotGeneration
	d.mu.Unlock()
	if err := d.storage.MarkSnapshotSynced(ctx, d.id, synced); err != nil {
		if !d.optionalUnsupported("mark_snapshot_synced", err) {
			return errs.NewStorageError(d.id, err)
		}
	}
	return nil
}

// runOutgoingSequence is the outgoing local update sequence (§4.5). It
// assumes the document has a sync adapter configured; callers (dispatch,
// hydrate's backlog replay) only enqueue it when that holds.
func (d *ManagedDocument) runOutgoingSequence(ctx context.Context) error {
	if d.sync == nil {
		return nil
	}

	if d.policy.PullBeforePush {
		sv, err := d.crdt.StateVector()
		if err != nil {
			return err
		}
		if _, err := d.pullInto(ctx, sv, false); err != nil {
			d.log.Warn("pull before push failed, continuing with push", logging.Err(err))
		}
	}

	if err := d.syncSnapshotIfNeeded(ctx); err != nil {
		d.log.Warn("snapshot-sync handshake failed", logging.Err(err))
		return err
	}

	update, ok := d.peekPendingHead()
	if !ok {
		return nil
	}

	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseStarted, Bytes: len(update)})
	if _, err := d.sync.Push(ctx, d.id, update, false); err != nil {
		wrapped := errs.NewSyncTransportError(d.id, err, false)
		d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseFailed, Err: wrapped})
		return wrapped
	}
	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseSucceeded, Bytes: len(update)})

	if err := d.clearPendingPrefix(ctx, 1); err != nil {
		return err
	}

	d.publishRealtime(ctx, update)
	return nil
}

// publishRealtime is the outbound half of §4.6: fire-and-log, never fatal
// to the sequence that triggered it, since the update is already durable
// (and pushed, if sync is configured) by the time this runs.
func (d *ManagedDocument) publishRealtime(ctx context.Context, update []byte) {
	if d.realtime == nil {
		return
	}
	if err := d.realtime.Publish(ctx, d.id, update); err != nil {
		wrapped := errs.NewRealtimePublishError(d.id, err)
		d.log.Warn("realtime publish failed", logging.Err(wrapped))
		d.emit(events.SyncEvent{Channel: events.ChannelRealtime, Direction: events.DirectionOutbound, Phase: events.PhaseFailed, Err: wrapped})
		return
	}
	d.emit(events.SyncEvent{Channel: events.ChannelRealtime, Direction: events.DirectionOutbound, Phase: events.PhaseSucceeded, Bytes: len(update)})
}

// onRealtimeUpdate is the realtime.InboundHandler registered in hydrate. It
// decodes and applies inline — the adapter already delivers on its own
// goroutine, and crdt.Handle implementations are expected to guard their own
// state, so routing this through the serializer would only add latency for
// no ordering benefit the CRDT doesn't already provide via Apply.
func (d *ManagedDocument) onRealtimeUpdate(update []byte) {
	decoded, err := d.codec.Decode(update)
	if err != nil {
		d.log.Error("decode inbound realtime update failed", logging.Err(err))
		return
	}
	if err := d.crdt.Apply(decoded, crdt.OriginRealtime); err != nil {
		d.log.Error("apply inbound realtime update failed", logging.Err(err))
		d.emit(events.SyncEvent{Channel: events.ChannelRealtime, Direction: events.DirectionInbound, Phase: events.PhaseFailed, Err: err})
		return
	}
	d.emit(events.SyncEvent{Channel: events.ChannelRealtime, Direction: events.DirectionInbound, Phase: events.PhaseSucceeded, Bytes: len(update)})
}

// syncNow implements manual sync: enqueued on the serializer by
// Registry.SyncNow, it never runs concurrently with a dispatch-triggered
// outgoing sequence.
func (d *ManagedDocument) syncNow(ctx context.Context, opts SyncOptions) error {
	return d.serializer.Run(ctx, func(ctx context.Context) error {
		if d.sync == nil && (opts.Pull || opts.Push) {
			return errs.NewContractViolation(d.id, errSyncNotConfigured)
		}

		if opts.Pull {
			sv, err := d.crdt.StateVector()
			if err != nil {
				return err
			}
			if _, err := d.pullInto(ctx, sv, false); err != nil {
				return err
			}
		}

		if opts.ForceSnapshot {
			if err := d.storeSnapshot(ctx, false); err != nil {
				return err
			}
		}

		if !opts.Push {
			return nil
		}

		if err := d.syncSnapshotIfNeeded(ctx); err != nil {
			return err
		}
		for {
			if d.pendingLen() == 0 {
				return nil
			}
			if err := d.drainOnePending(ctx); err != nil {
				return err
			}
		}
	})
}

// drainOnePending pushes exactly the current pending head, without redoing
// the pull or snapshot-handshake steps syncNow already ran.
func (d *ManagedDocument) drainOnePending(ctx context.Context) error {
	update, ok := d.peekPendingHead()
	if !ok {
		return nil
	}
	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseStarted, Bytes: len(update)})
	if _, err := d.sync.Push(ctx, d.id, update, false); err != nil {
		wrapped := errs.NewSyncTransportError(d.id, err, false)
		d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseFailed, Err: wrapped})
		return wrapped
	}
	d.emit(events.SyncEvent{Channel: events.ChannelSync, Direction: events.DirectionOutbound, Phase: events.PhaseSucceeded, Bytes: len(update)})
	if err := d.clearPendingPrefix(ctx, 1); err != nil {
		return err
	}
	d.publishRealtime(ctx, update)
	return nil
}

var errSyncNotConfigured = &syncNotConfiguredError{}

type syncNotConfiguredError struct{}

func (*syncNotConfiguredError) Error() string {
	return "document: sync was requested but no SyncAdapter is configured"
}
