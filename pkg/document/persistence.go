package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/docloom/collab-sdk/pkg/errs"
	"github.com/docloom/collab-sdk/pkg/logging"
	"github.com/docloom/collab-sdk/pkg/storage"
)

// This file implements the PersistenceCoordinator: every call into
// d.storage from the rest of the package goes through here, so the
// warn-once-and-degrade policy for optional methods lives in one place.

func (d *ManagedDocument) optionalUnsupported(method string, err error) bool {
	if !errors.Is(err, storage.ErrUnsupported) {
		return false
	}
	if d.warnOnceFor(method) {
		d.log.Warn("storage adapter does not implement optional method, degrading to in-memory-only", logging.String("method", method))
	}
	return true
}

// loadSnapshot is get_snapshot, tolerant of the method being unsupported.
func (d *ManagedDocument) loadSnapshot(ctx context.Context) (*storage.SnapshotRecord, error) {
	rec, err := d.storage.GetSnapshot(ctx, d.id)
	if err != nil {
		if d.optionalUnsupported("get_snapshot", err) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// loadPendingSync is get_pending_sync, tolerant of the method being
// unsupported.
func (d *ManagedDocument) loadPendingSync(ctx context.Context) ([][]byte, error) {
	pending, err := d.storage.GetPendingSync(ctx, d.id)
	if err != nil {
		if d.optionalUnsupported("get_pending_sync", err) {
			return nil, nil
		}
		return nil, err
	}
	return pending, nil
}

// append is PersistenceCoordinator.append: write to the log, optionally
// mark pending, bump counters, and maybe snapshot. Required by I1: it must
// run, and complete, before any push or publish for the same update.
func (d *ManagedDocument) append(ctx context.Context, update []byte, markPending bool) error {
	if err := d.storage.AppendUpdate(ctx, d.id, update); err != nil {
		return errs.NewStorageError(d.id, err)
	}

	d.mu.Lock()
	if markPending {
		d.pendingSync = append(d.pendingSync, update)
	}
	d.updatesSinceSnapshot++
	d.bytesSinceSnapshot += uint64(len(update))
	newPending := append([][]byte(nil), d.pendingSync...)
	d.mu.Unlock()

	if markPending {
		if err := d.storage.MarkPendingSync(ctx, d.id, newPending); err != nil {
			if !d.optionalUnsupported("mark_pending_sync", err) {
				return errs.NewStorageError(d.id, err)
			}
		}
	}

	return d.maybeSnapshot(ctx)
}

// maybeSnapshot is PersistenceCoordinator.maybe_snapshot.
func (d *ManagedDocument) maybeSnapshot(ctx context.Context) error {
	d.mu.Lock()
	updates, bytes := d.updatesSinceSnapshot, d.bytesSinceSnapshot
	met := d.policy.SnapshotEvery.Met(updates, bytes)
	d.mu.Unlock()
	if !met {
		return nil
	}
	return d.storeSnapshot(ctx, false)
}

// storeSnapshot is PersistenceCoordinator.store_snapshot: encode the
// CRDT's current full state and persist it, bumping snapshot_generation
// and resetting the since-snapshot counters. The update log is never
// truncated — snapshots are bootstrap hints, not replacements.
func (d *ManagedDocument) storeSnapshot(ctx context.Context, markSynced bool) error {
	state, err := d.crdt.EncodeState()
	if err != nil {
		return fmt.Errorf("document: encode state for snapshot on %q: %w", d.id, err)
	}
	encoded, err := d.codec.Encode(state)
	if err != nil {
		return errs.NewDecodeError(d.id, err)
	}
	if err := d.storage.SetSnapshot(ctx, d.id, encoded); err != nil {
		if !d.optionalUnsupported("set_snapshot", err) {
			return errs.NewStorageError(d.id, err)
		}
	}

	d.mu.Lock()
	d.snapshotGeneration++
	gen := d.snapshotGeneration
	d.updatesSinceSnapshot = 0
	d.bytesSinceSnapshot = 0
	if markSynced {
		d.syncedSnapshotGeneration = gen
	}
	d.mu.Unlock()

	if markSynced {
		if err := d.storage.MarkSnapshotSynced(ctx, d.id, gen); err != nil {
			if !d.optionalUnsupported("mark_snapshot_synced", err) {
				return errs.NewStorageError(d.id, err)
			}
		}
	}
	return nil
}

// clearPendingPrefix drops the first n entries of pending_sync and
// persists the remainder.
func (d *ManagedDocument) clearPendingPrefix(ctx context.Context, n int) error {
	d.mu.Lock()
	if n > len(d.pendingSync) {
		n = len(d.pendingSync)
	}
	d.pendingSync = append([][]byte(nil), d.pendingSync[n:]...)
	remaining := append([][]byte(nil), d.pendingSync...)
	d.mu.Unlock()

	var err error
	if len(remaining) == 0 {
		err = d.storage.ClearPendingSync(ctx, d.id)
		if err != nil && d.optionalUnsupported("clear_pending_sync", err) {
			return nil
		}
	} else {
		err = d.storage.MarkPendingSync(ctx, d.id, remaining)
		if err != nil && d.optionalUnsupported("mark_pending_sync", err) {
			return nil
		}
	}
	if err != nil {
		return errs.NewStorageError(d.id, err)
	}
	return nil
}

// peekPendingHead returns the first pending-sync entry, if any.
func (d *ManagedDocument) peekPendingHead() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pendingSync) == 0 {
		return nil, false
	}
	return d.pendingSync[0], true
}

// pendingLen reports the current pending-sync backlog length.
func (d *ManagedDocument) pendingLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pendingSync)
}

func (d *ManagedDocument) generations() (snapshotGen, syncedGen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotGeneration, d.syncedSnapshotGeneration
}
