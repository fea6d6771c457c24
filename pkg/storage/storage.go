// Package storage defines the StorageAdapter contract the document engine
// persists through, plus four concrete backends: an in-memory store for
// tests, a file store, and real PostgreSQL/Redis stores grounded on the
// teacher's storage_backends.go shape (same config knobs, schema-init and
// key-naming conventions, now serving opaque update logs instead of typed
// state versions).
package storage

import "context"

// SnapshotRecord is what get_snapshot returns: the latest full-state blob
// plus the generation bookkeeping the engine needs to decide whether a
// snapshot needs re-pushing.
type SnapshotRecord struct {
	Snapshot                  []byte
	SnapshotGeneration        uint64
	SyncedSnapshotGeneration  uint64
}

// Adapter is the storage contract from the engine's persistence design.
// GetUpdates, AppendUpdate and Remove are required; every other method is
// optional — an adapter that doesn't support it returns ErrUnsupported and
// the engine falls back to in-memory-only behavior for that feature,
// logging a warning once per method per open document. Documents sharing an
// adapter each log their own warning; there is no per-adapter deduplication.
type Adapter interface {
	// GetSnapshot returns the stored snapshot record, or (nil, nil) if the
	// document has no snapshot yet. Optional.
	GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error)

	// GetUpdates returns the ordered update log, or (nil, nil) if id is
	// entirely unknown to storage (as opposed to known-but-empty, which
	// returns an empty, non-nil slice). Required.
	GetUpdates(ctx context.Context, id string) ([][]byte, error)

	// GetPendingSync returns the persisted pending-sync backlog. Optional;
	// ErrUnsupported means the engine keeps the backlog in memory only.
	GetPendingSync(ctx context.Context, id string) ([][]byte, error)

	// AppendUpdate appends one update to the ordered log. Required.
	AppendUpdate(ctx context.Context, id string, update []byte) error

	// SetSnapshot stores the latest full-state snapshot and bumps the
	// stored snapshot_generation. Optional.
	SetSnapshot(ctx context.Context, id string, snapshot []byte) error

	// MarkPendingSync replaces the persisted pending-sync list wholesale.
	// Optional.
	MarkPendingSync(ctx context.Context, id string, updates [][]byte) error

	// ClearPendingSync is equivalent to MarkPendingSync(id, nil). Optional.
	ClearPendingSync(ctx context.Context, id string) error

	// MarkSnapshotSynced advances the stored synced_snapshot_generation,
	// capped at the current snapshot_generation. Optional.
	MarkSnapshotSynced(ctx context.Context, id string, generation uint64) error

	// Remove deletes every record for id. Required.
	Remove(ctx context.Context, id string) error
}
