// Package crdttest is a fake crdt.Handle for exercising the document
// package's dispatcher and orchestrator logic without depending on a real
// CRDT library or even lwwmap's JSON Patch semantics. It tracks every call
// it receives so tests can assert on origin routing, state-vector plumbing
// and transaction boundaries directly, the way the teacher's
// performance_mock_test.go and MockRedisBackend stand in for a real
// backend.
package crdttest

import (
	"fmt"
	"sync"

	"github.com/docloom/collab-sdk/pkg/crdt"
)

// Handle is a fake crdt.Handle backed by an in-memory counter so tests can
// drive "local mutation" without any JSON Patch machinery. Each call to Inc
// or Apply emits one opaque update: the resulting counter value encoded as
// a decimal string, which EncodeState also reports, so tests can assert
// convergence by comparing values across independently driven Handles.
// StateVector reports a separate, monotonically increasing sequence number
// that advances by one per emitted update.
type Handle struct {
	mu      sync.Mutex
	value   int
	seq     uint64
	handler crdt.UpdateHandler
	closed  bool

	// Applied records every call to Apply, in order, for assertions.
	Applied []AppliedUpdate
}

// AppliedUpdate records one call to Apply.
type AppliedUpdate struct {
	Update []byte
	Origin crdt.Origin
}

// New returns an empty fake replica.
func New() *Handle {
	return &Handle{}
}

// Value returns the current counter value.
func (h *Handle) Value() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

// Inc performs a local mutation: increments the counter by delta inside a
// transaction tagged with origin, emitting exactly one update.
func (h *Handle) Inc(origin crdt.Origin, delta int) error {
	return h.Transact(origin, func() error {
		h.mu.Lock()
		h.value += delta
		h.mu.Unlock()
		return nil
	})
}

// Apply implements crdt.Handle: it parses update as a decimal absolute
// value assignment and fires the handler with origin.
func (h *Handle) Apply(update []byte, origin crdt.Origin) error {
	var v int
	if _, err := fmt.Sscanf(string(update), "%d", &v); err != nil {
		return fmt.Errorf("crdttest: malformed update %q: %w", update, err)
	}
	h.mu.Lock()
	h.value = v
	h.seq++
	h.Applied = append(h.Applied, AppliedUpdate{Update: append([]byte(nil), update...), Origin: origin})
	handler := h.handler
	h.mu.Unlock()
	if handler != nil {
		handler(update, origin)
	}
	return nil
}

// StateVector returns the current sequence number, decimal-encoded.
func (h *Handle) StateVector() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return []byte(fmt.Sprintf("%d", h.seq)), nil
}

// EncodeState returns the current value, decimal-encoded — same shape as an
// Apply-able update, mirroring a real CRDT's encodeStateAsUpdate producing
// something applyUpdate accepts.
func (h *Handle) EncodeState() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return []byte(fmt.Sprintf("%d", h.value)), nil
}

// OnUpdate implements crdt.Handle.
func (h *Handle) OnUpdate(handler crdt.UpdateHandler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Transact runs fn, then emits one update for the resulting value tagged
// with origin — fn is expected to mutate h.value directly (see Inc).
func (h *Handle) Transact(origin crdt.Origin, fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	h.mu.Lock()
	h.seq++
	update := []byte(fmt.Sprintf("%d", h.value))
	handler := h.handler
	h.mu.Unlock()
	if handler != nil {
		handler(update, origin)
	}
	return nil
}

// Close implements crdt.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

var _ crdt.Handle = (*Handle)(nil)
