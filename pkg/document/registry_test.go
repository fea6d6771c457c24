package document

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docloom/collab-sdk/pkg/crdt"
	"github.com/docloom/collab-sdk/pkg/crdttest"
	"github.com/docloom/collab-sdk/pkg/errs"
	"github.com/docloom/collab-sdk/pkg/policy"
	"github.com/docloom/collab-sdk/pkg/storage/memstore"
)

func newBareRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(Options{
		Storage: memstore.New(),
		NewHandle: func(id string) (crdt.Handle, error) {
			return crdttest.New(), nil
		},
		Policy: policy.Default(),
	})
	require.NoError(t, err)
	return reg
}

func TestOpenIsIdempotentForSameID(t *testing.T) {
	reg := newBareRegistry(t)
	defer reg.Close()

	h1, err := reg.Open(context.Background(), "doc-1")
	require.NoError(t, err)
	h2, err := reg.Open(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Same(t, h1.doc, h2.doc)
}

func TestOpenConcurrentRaceKeepsOneWinner(t *testing.T) {
	reg := newBareRegistry(t)
	defer reg.Close()

	const n = 20
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			h, err := reg.Open(context.Background(), "doc-race")
			require.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, handles[0].doc, handles[i].doc, "every concurrent Open must resolve to the same document")
	}
}

func TestOpenAfterCloseReturnsManagerClosed(t *testing.T) {
	reg := newBareRegistry(t)
	require.NoError(t, reg.Close())

	_, err := reg.Open(context.Background(), "doc-1")
	assert.ErrorIs(t, err, errs.ErrManagerClosed)
}

func TestSyncNowOnUnknownDocReturnsContractViolation(t *testing.T) {
	reg := newBareRegistry(t)
	defer reg.Close()

	err := reg.SyncNow(context.Background(), "never-opened", SyncOptions{})
	var cv *errs.ContractViolation
	require.ErrorAs(t, err, &cv)
}

func TestCloseDocumentLeavesStorageIntact(t *testing.T) {
	store := memstore.New()
	reg, err := NewRegistry(Options{
		Storage: store,
		NewHandle: func(id string) (crdt.Handle, error) {
			return crdttest.New(), nil
		},
		Policy: policy.Default(),
	})
	require.NoError(t, err)
	defer reg.Close()

	h, err := reg.Open(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NoError(t, h.doc.crdt.(*crdttest.Handle).Inc(nil, 1))
	drain(t, h)

	require.NoError(t, reg.CloseDocument("doc-1"))

	updates, err := store.GetUpdates(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.NotEmpty(t, updates, "CloseDocument must not touch the storage record")

	// Reopening rehydrates from exactly where it left off.
	h2, err := reg.Open(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.NotSame(t, h.doc, h2.doc)
}

func TestRemoveDeletesStorageRecord(t *testing.T) {
	store := memstore.New()
	reg, err := NewRegistry(Options{
		Storage: store,
		NewHandle: func(id string) (crdt.Handle, error) {
			return crdttest.New(), nil
		},
		Policy: policy.Default(),
	})
	require.NoError(t, err)
	defer reg.Close()

	h, err := reg.Open(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NoError(t, h.doc.crdt.(*crdttest.Handle).Inc(nil, 1))
	drain(t, h)

	require.NoError(t, reg.Remove(context.Background(), "doc-1"))

	updates, err := store.GetUpdates(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Empty(t, updates, "Remove must delete the storage record")
}

func TestRemoveUnknownDocReturnsContractViolation(t *testing.T) {
	reg := newBareRegistry(t)
	defer reg.Close()

	err := reg.Remove(context.Background(), "never-opened")
	var cv *errs.ContractViolation
	require.ErrorAs(t, err, &cv)
}

func TestCloseDetachesEveryOpenDocumentConcurrently(t *testing.T) {
	reg := newBareRegistry(t)

	ids := []string{"doc-a", "doc-b", "doc-c", "doc-d"}
	docs := make([]*ManagedDocument, 0, len(ids))
	for _, id := range ids {
		h, err := reg.Open(context.Background(), id)
		require.NoError(t, err)
		docs = append(docs, h.doc)
	}

	require.NoError(t, reg.Close())

	for _, d := range docs {
		assert.True(t, d.crdt.(*crdttest.Handle).Closed())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	reg := newBareRegistry(t)
	require.NoError(t, reg.Close())
	assert.NoError(t, reg.Close())
}
