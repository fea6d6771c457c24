package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSnapshotOnUnknownDocReturnsNil(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	rec, err := s.GetSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAppendUpdateAccumulatesAndPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.AppendUpdate(ctx, "doc-1", []byte("u1")))
	require.NoError(t, s.AppendUpdate(ctx, "doc-1", []byte("u2")))

	updates, err := s.GetUpdates(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "u1", string(updates[0]))
	assert.Equal(t, "u2", string(updates[1]))

	// A fresh Store rooted at the same dir must see the same data: state
	// lives on disk, not in the struct.
	s2, err := New(dir)
	require.NoError(t, err)
	updates2, err := s2.GetUpdates(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, updates, updates2)
}

func TestSetSnapshotBumpsGeneration(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SetSnapshot(ctx, "doc-1", []byte("snap-a")))
	rec, err := s.GetSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(1), rec.SnapshotGeneration)

	require.NoError(t, s.SetSnapshot(ctx, "doc-1", []byte("snap-b")))
	rec, err = s.GetSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.SnapshotGeneration)
	assert.Equal(t, "snap-b", string(rec.Snapshot))
}

func TestMarkSnapshotSyncedCapsAtCurrentGeneration(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SetSnapshot(ctx, "doc-1", []byte("snap")))
	require.NoError(t, s.MarkSnapshotSynced(ctx, "doc-1", 99))

	rec, err := s.GetSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.SyncedSnapshotGeneration)
}

func TestMarkPendingSyncAndClear(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.MarkPendingSync(ctx, "doc-1", [][]byte{[]byte("p1"), []byte("p2")}))
	pending, err := s.GetPendingSync(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.ClearPendingSync(ctx, "doc-1"))
	pending, err = s.GetPendingSync(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRemoveDeletesEverything(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AppendUpdate(ctx, "doc-1", []byte("u1")))
	require.NoError(t, s.Remove(ctx, "doc-1"))

	updates, err := s.GetUpdates(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestDocIDWithPathSeparatorsStaysWithinBaseDir(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AppendUpdate(ctx, "../../etc/passwd", []byte("u1")))
	updates, err := s.GetUpdates(ctx, "../../etc/passwd")
	require.NoError(t, err)
	require.Len(t, updates, 1)
}
