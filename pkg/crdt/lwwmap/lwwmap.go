// Package lwwmap is a reference crdt.Handle implementation: a last-writer-
// wins JSON document replicated via RFC 6902 JSON Patch updates. It exists
// so the document engine is runnable and testable without a real CRDT
// library, the same way the teacher ships MockRedisBackend alongside the
// abstract StorageBackend. It is NOT a general-purpose CRDT: concurrent
// patches from two replicas are not guaranteed to converge, only patches
// applied through a single totally-ordered channel (which is exactly what
// this module's serializer guarantees per document).
package lwwmap

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/docloom/collab-sdk/pkg/crdt"
)

// Replica is a minimal in-memory document backed by a JSON object and a
// monotonically increasing clock used as its state vector.
type Replica struct {
	mu      sync.Mutex
	state   []byte // current document, always a JSON object
	clock   uint64 // number of updates applied since creation
	handler crdt.UpdateHandler
}

// New creates an empty replica (an empty JSON object).
func New() *Replica {
	return &Replica{state: []byte("{}")}
}

// Get returns the decoded document as a map.
func (r *Replica) Get() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var m map[string]interface{}
	_ = json.Unmarshal(r.state, &m)
	return m
}

// Set applies a single field assignment as a local update and returns the
// update blob that was emitted, for convenience in tests/demos.
func (r *Replica) Set(origin crdt.Origin, path string, value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	op := "replace"
	if _, exists := r.Get()[path]; !exists {
		op = "add"
	}
	update := []byte(fmt.Sprintf(`[{"op":"%s","path":"/%s","value":%s}]`, op, path, raw))
	if err := r.Apply(update, origin); err != nil {
		return nil, err
	}
	return update, nil
}

// Apply merges an opaque JSON Patch update into the replica and fires the
// update hook with the supplied origin.
func (r *Replica) Apply(update []byte, origin crdt.Origin) error {
	r.mu.Lock()
	err := r.applyLocked(update)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if r.handler != nil {
		r.handler(update, origin)
	}
	return nil
}

// rootReplaceOp is the shape EncodeState emits for a snapshot: a single
// whole-document replace. Handled directly rather than delegated to the
// patch library, whose support for an empty (root) JSON pointer path is not
// guaranteed across versions.
type rootReplaceOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// applyLocked assumes r.mu is held.
func (r *Replica) applyLocked(update []byte) error {
	var ops []rootReplaceOp
	if err := json.Unmarshal(update, &ops); err == nil && len(ops) == 1 && ops[0].Op == "replace" && ops[0].Path == "" {
		if !json.Valid(ops[0].Value) {
			return fmt.Errorf("lwwmap: snapshot replace carries invalid JSON value")
		}
		r.state = append([]byte(nil), ops[0].Value...)
		r.clock++
		return nil
	}

	patch, err := jsonpatch.DecodePatch(update)
	if err != nil {
		return fmt.Errorf("lwwmap: decode patch: %w", err)
	}
	next, err := patch.Apply(r.state)
	if err != nil {
		return fmt.Errorf("lwwmap: apply patch: %w", err)
	}
	r.state = next
	r.clock++
	return nil
}

// StateVector encodes the replica's clock as an opaque blob: the clock's
// JSON (decimal) encoding.
func (r *Replica) StateVector() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(r.clock)
}

// EncodeState returns a snapshot blob. It is itself a JSON Patch — a single
// "replace" of the root ("" per RFC 6901) with the full document — so that
// Apply can treat snapshots and incremental updates identically: both are
// just patches the dispatcher never distinguishes by content.
func (r *Replica) EncodeState() ([]byte, error) {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	return json.Marshal([]map[string]json.RawMessage{{
		"op":    json.RawMessage(`"replace"`),
		"path":  json.RawMessage(`""`),
		"value": json.RawMessage(state),
	}})
}

// OnUpdate registers the engine's dispatch hook.
func (r *Replica) OnUpdate(handler crdt.UpdateHandler) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// Transact runs fn, which is expected to call applyLocked-producing helpers
// (Set, or a caller's own patch construction followed by Apply). It does not
// fire the update hook itself. Because this reference
// replica applies patches one at a time, Transact here just delegates: fn
// is responsible for calling Apply itself with the given origin. This
// keeps the reference implementation simple while still honoring the
// Handle contract's shape.
func (r *Replica) Transact(origin crdt.Origin, fn func() error) error {
	return fn()
}

// Close is a no-op; the replica holds no external resources.
func (r *Replica) Close() error { return nil }

var _ crdt.Handle = (*Replica)(nil)
