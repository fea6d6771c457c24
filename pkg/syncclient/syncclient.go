// Package syncclient defines the SyncAdapter contract the
// SyncOrchestrator pulls and pushes through, plus a REST implementation of
// the default wire protocol grounded on the teacher's HTTP transport and
// resilience patterns (pkg/client/http_transport.go, resilience.go):
// context-scoped requests, exponential backoff retries via
// cenkalti/backoff, and the same "retry the transient, surface the rest"
// posture.
package syncclient

import "context"

// PullResult is what Pull returns for one document.
type PullResult struct {
	// Snapshot, if non-nil, is a full-state blob the caller applies with
	// origin SYNC. The document engine then stores a local snapshot marked
	// synced only when this answers a brand-new document's snapshot request.
	Snapshot []byte
	// Updates, when Snapshot is nil, are the incremental update blobs the
	// caller should apply in order, each with origin SYNC.
	Updates [][]byte
	// LastSynced is the server's opaque checkpoint token, persisted by
	// the caller as the new basis for the next pull's comparison.
	LastSynced string
}

// Adapter is the sync transport contract from the engine's sync protocol
// design: request/response, opaque-blob, one document at a time from the
// orchestrator's perspective (the adapter is free to batch internally).
type Adapter interface {
	// Pull requests updates since stateVector. A brand-new document
	// passes a nil stateVector and requestSnapshot = true. Returns a zero
	// PullResult (all fields empty) when the server has nothing new.
	Pull(ctx context.Context, docID string, stateVector []byte, requestSnapshot bool) (PullResult, error)

	// Push sends update to the server. isSnapshot tells the server the
	// payload is a full-state snapshot rather than an incremental update.
	// Returns the server's new checkpoint token.
	Push(ctx context.Context, docID string, update []byte, isSnapshot bool) (lastSynced string, err error)
}
