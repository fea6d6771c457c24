// Package crdt defines the narrow surface the engine needs from a CRDT
// replica. The concrete CRDT algorithm (Yjs-like, Automerge-like, ...) is
// out of scope for this module; hosts supply a Handle implementation that
// wraps their library of choice. A reference last-writer-wins replica is
// provided in the lwwmap subpackage for tests and demos.
package crdt

// Origin identifies the channel that produced an update passed to a Handle's
// update hook. The three reserved origins below are unexported pointer
// identities, not strings, so a caller can never forge one by accident —
// see NewOrigin for how callers mint their own distinguishable origin for
// local authorship.
type tag struct{ _ byte }

// Origin is an opaque, comparable marker. The zero value (nil) denotes
// "unspecified local authorship".
type Origin *tag

// NewOrigin mints a fresh origin a caller can use to tag their own local
// edits (e.g. to distinguish "user typed this" from "AI suggested this").
// It is guaranteed to never equal OriginStorage, OriginSync or
// OriginRealtime.
func NewOrigin() Origin {
	return &tag{}
}

// The three channel origins the dispatcher recognizes. Anything else,
// including nil and the result of NewOrigin, is local authorship.
var (
	OriginStorage  Origin = &tag{}
	OriginSync     Origin = &tag{}
	OriginRealtime Origin = &tag{}
)

// IsLocal reports whether origin denotes local authorship, i.e. it is not
// one of the three reserved channel origins.
func IsLocal(origin Origin) bool {
	return origin != OriginStorage && origin != OriginSync && origin != OriginRealtime
}

// UpdateHandler is invoked synchronously by a Handle whenever a transaction
// commits, whether from a local mutation or from Apply.
type UpdateHandler func(update []byte, origin Origin)

// Handle is the minimal interface the engine needs from a CRDT replica.
type Handle interface {
	// Apply merges an opaque update blob into the replica. The update hook
	// fires with the given origin rather than a local one.
	Apply(update []byte, origin Origin) error

	// StateVector returns an opaque summary of what this replica has
	// observed, suitable for requesting only the updates a peer is missing.
	StateVector() ([]byte, error)

	// EncodeState returns a full-state snapshot blob.
	EncodeState() ([]byte, error)

	// OnUpdate registers the handler invoked after every committed
	// transaction. A Handle has exactly one handler; registering again
	// replaces it.
	OnUpdate(handler UpdateHandler)

	// Transact runs fn inside a single transaction so that any writes fn
	// performs emit as one update tagged with origin.
	Transact(origin Origin, fn func() error) error

	// Close releases resources held by the replica.
	Close() error
}
