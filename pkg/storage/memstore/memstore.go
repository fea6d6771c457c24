// Package memstore is an in-memory storage.Adapter implementing every
// optional method, suited to tests and single-process demos. It is the
// domain's analogue of the teacher's in-memory state cache: no
// persistence across restarts, full capability set.
package memstore

import (
	"context"
	"sync"

	"github.com/docloom/collab-sdk/pkg/storage"
)

type record struct {
	updates  [][]byte
	pending  [][]byte
	snapshot []byte
	gen      uint64
	synced   uint64
}

// Store is a mutex-guarded map of per-document records.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

func (s *Store) get(id string) (*record, bool) {
	r, ok := s.records[id]
	return r, ok
}

func (s *Store) getOrCreate(id string) *record {
	r, ok := s.records[id]
	if !ok {
		r = &record{}
		s.records[id] = r
	}
	return r
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneAll(in [][]byte) [][]byte {
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = clone(b)
	}
	return out
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(id)
	if !ok || (r.snapshot == nil && r.gen == 0) {
		return nil, nil
	}
	return &storage.SnapshotRecord{
		Snapshot:                 clone(r.snapshot),
		SnapshotGeneration:       r.gen,
		SyncedSnapshotGeneration: r.synced,
	}, nil
}

func (s *Store) GetUpdates(ctx context.Context, id string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(id)
	if !ok {
		return nil, nil
	}
	return cloneAll(r.updates), nil
}

func (s *Store) GetPendingSync(ctx context.Context, id string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(id)
	if !ok {
		return nil, nil
	}
	return cloneAll(r.pending), nil
}

func (s *Store) AppendUpdate(ctx context.Context, id string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getOrCreate(id)
	r.updates = append(r.updates, clone(update))
	return nil
}

func (s *Store) SetSnapshot(ctx context.Context, id string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getOrCreate(id)
	r.snapshot = clone(snapshot)
	r.gen++
	return nil
}

func (s *Store) MarkPendingSync(ctx context.Context, id string, updates [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getOrCreate(id)
	r.pending = cloneAll(updates)
	return nil
}

func (s *Store) ClearPendingSync(ctx context.Context, id string) error {
	return s.MarkPendingSync(ctx, id, nil)
}

func (s *Store) MarkSnapshotSynced(ctx context.Context, id string, generation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getOrCreate(id)
	if generation > r.gen {
		generation = r.gen
	}
	if generation > r.synced {
		r.synced = generation
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

var _ storage.Adapter = (*Store)(nil)
