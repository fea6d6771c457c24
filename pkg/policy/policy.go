// Package policy holds the tunables that shape sync and snapshot behavior:
// how often to snapshot locally, whether to pull before pushing, and whether
// a freshly opened document requests a full snapshot on its first pull.
package policy

import (
	"fmt"
	"time"
)

// Default tunables, named after the teacher's constants.go convention.
const (
	DefaultTaskQueueSize    = 200
	DefaultMaxPushRetries   = 3
	DefaultBaseRetryDelay   = 100 * time.Millisecond
	DefaultMaxRetryDelay    = 5 * time.Second
)

// SnapshotEvery gates how often PersistenceCoordinator.maybeSnapshot fires.
// Either threshold, once non-zero and met, triggers a snapshot. Zero means
// "never trigger on this axis".
type SnapshotEvery struct {
	Updates uint64
	Bytes   uint64
}

// Met reports whether either threshold has been reached.
func (s SnapshotEvery) Met(updates, bytes uint64) bool {
	return (s.Updates > 0 && updates >= s.Updates) || (s.Bytes > 0 && bytes >= s.Bytes)
}

// SnapshotSync controls the snapshot-sync handshake in the outgoing update
// sequence (spec §4.5).
type SnapshotSync struct {
	// Send, when false, still sends the very first snapshot but suppresses
	// subsequent re-sends triggered by later local snapshot bumps.
	Send bool
	// RequestOnNewDocument, when false, makes a brand-new document's first
	// pull carry a zero state vector instead of requesting a full snapshot.
	RequestOnNewDocument bool
}

// DefaultSnapshotSync matches the spec's stated defaults.
func DefaultSnapshotSync() SnapshotSync {
	return SnapshotSync{Send: true, RequestOnNewDocument: true}
}

// Retry configures the bounded retry/backoff the REST sync client
// (syncclient/rest, set via rest.WithRetry) applies to each pull or push
// request (not a cross-mutation background retry; failures surface and
// wait for the next local mutation or a manual sync). The document engine
// validates Sync.Retry but does not otherwise read it.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry mirrors the teacher's DefaultMaxRetries/DefaultRetryDelay.
func DefaultRetry() Retry {
	return Retry{MaxAttempts: DefaultMaxPushRetries, BaseDelay: DefaultBaseRetryDelay, MaxDelay: DefaultMaxRetryDelay}
}

func (r Retry) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("policy: retry max attempts must be positive, got %d", r.MaxAttempts)
	}
	if r.BaseDelay < 0 {
		return fmt.Errorf("policy: retry base delay cannot be negative, got %v", r.BaseDelay)
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("policy: retry max delay (%v) cannot be less than base delay (%v)", r.MaxDelay, r.BaseDelay)
	}
	return nil
}

// Sync aggregates the policy knobs from spec §4.5.
type Sync struct {
	PullBeforePush bool
	SnapshotSync   SnapshotSync
	Retry          Retry
	SnapshotEvery  SnapshotEvery
	TaskQueueSize  int
}

// Default returns the spec's stated defaults: pull before push, send the
// snapshot handshake, request a snapshot for brand-new documents, and
// snapshot locally every 100 updates or 256KiB of update bytes.
func Default() Sync {
	return Sync{
		PullBeforePush: true,
		SnapshotSync:   DefaultSnapshotSync(),
		Retry:          DefaultRetry(),
		SnapshotEvery:  SnapshotEvery{Updates: 100, Bytes: 256 * 1024},
		TaskQueueSize:  DefaultTaskQueueSize,
	}
}

// Validate rejects nonsensical configuration before it reaches a running
// document, mirroring the teacher's ManagerOptions.Validate().
func (s Sync) Validate() error {
	if s.TaskQueueSize <= 0 {
		return fmt.Errorf("policy: task queue size must be positive, got %d", s.TaskQueueSize)
	}
	return s.Retry.Validate()
}
