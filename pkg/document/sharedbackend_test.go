package document

import (
	"context"
	"errors"
	"sync"

	"github.com/docloom/collab-sdk/pkg/storage/memstore"
	"github.com/docloom/collab-sdk/pkg/syncclient"
)

// sharedBackend is a minimal in-process stand-in for a real sync server
// shared by multiple independent replicas in tests: every push (snapshot
// or incremental) replaces the server's notion of "latest known value" for
// the doc, and every pull returns it as a snapshot. This matches
// crdttest.Handle's simplified CRDT, where every update (whether from
// EncodeState or a transaction) is an absolute value assignment, so a
// snapshot and an incremental update are interchangeable from the backend's
// point of view.
type sharedBackend struct {
	mu     sync.Mutex
	latest map[string][]byte
}

func newSharedBackend() *sharedBackend {
	return &sharedBackend{latest: make(map[string][]byte)}
}

func (b *sharedBackend) clientFor(name string) syncclient.Adapter {
	return &sharedBackendClient{backend: b}
}

type sharedBackendClient struct {
	backend *sharedBackend
}

func (c *sharedBackendClient) Pull(ctx context.Context, docID string, stateVector []byte, requestSnapshot bool) (syncclient.PullResult, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	v, ok := c.backend.latest[docID]
	if !ok {
		return syncclient.PullResult{}, nil
	}
	return syncclient.PullResult{Snapshot: append([]byte(nil), v...)}, nil
}

func (c *sharedBackendClient) Push(ctx context.Context, docID string, update []byte, isSnapshot bool) (string, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.latest[docID] = append([]byte(nil), update...)
	return "", nil
}

var _ syncclient.Adapter = (*sharedBackendClient)(nil)

// failingAppendStore wraps a real storage.Adapter and optionally fails
// every AppendUpdate call, for exercising the PersistenceCoordinator's
// error path (I1/I2: pending_sync must not advance past a failed append).
type failingAppendStore struct {
	*memstore.Store
	fail bool
}

func (s *failingAppendStore) AppendUpdate(ctx context.Context, id string, update []byte) error {
	if s.fail {
		return errors.New("failingAppendStore: forced append failure")
	}
	return s.Store.AppendUpdate(ctx, id, update)
}

