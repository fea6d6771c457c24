// Package filestore is a storage.Adapter that persists each document's
// records as JSON files under a base directory, one subdirectory per
// document id, the way the teacher's FileBackend shards state onto disk
// instead of a database.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/docloom/collab-sdk/pkg/storage"
)

// Store persists documents as JSON files under BaseDir/<id>/.
type Store struct {
	baseDir string
	mu      sync.Mutex // guards the whole tree; simplicity over per-doc locks
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

type diskRecord struct {
	Updates                  [][]byte `json:"updates"`
	Pending                  [][]byte `json:"pending"`
	Snapshot                 []byte   `json:"snapshot,omitempty"`
	SnapshotGeneration       uint64   `json:"snapshot_generation"`
	SyncedSnapshotGeneration uint64   `json:"synced_snapshot_generation"`
}

func (s *Store) docDir(id string) string {
	return filepath.Join(s.baseDir, url_escape(id))
}

// url_escape keeps ids with path separators from escaping baseDir; document
// ids are opaque strings per the engine's data model, not necessarily
// filesystem-safe.
func url_escape(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r == '/' || r == '\\' || r == '.':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.docDir(id), "record.json")
}

func (s *Store) read(id string) (*diskRecord, bool, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *Store) write(id string, rec *diskRecord) error {
	if err := os.MkdirAll(s.docDir(id), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := s.recordPath(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.recordPath(id))
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.read(id)
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	if !ok || (rec.Snapshot == nil && rec.SnapshotGeneration == 0) {
		return nil, nil
	}
	return &storage.SnapshotRecord{
		Snapshot:                 rec.Snapshot,
		SnapshotGeneration:       rec.SnapshotGeneration,
		SyncedSnapshotGeneration: rec.SyncedSnapshotGeneration,
	}, nil
}

func (s *Store) GetUpdates(ctx context.Context, id string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.read(id)
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return rec.Updates, nil
}

func (s *Store) GetPendingSync(ctx context.Context, id string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.read(id)
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return rec.Pending, nil
}

func (s *Store) AppendUpdate(ctx context.Context, id string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _, err := s.read(id)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	if rec == nil {
		rec = &diskRecord{}
	}
	rec.Updates = append(rec.Updates, update)
	return s.write(id, rec)
}

func (s *Store) SetSnapshot(ctx context.Context, id string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _, err := s.read(id)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	if rec == nil {
		rec = &diskRecord{}
	}
	rec.Snapshot = snapshot
	rec.SnapshotGeneration++
	return s.write(id, rec)
}

func (s *Store) MarkPendingSync(ctx context.Context, id string, updates [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _, err := s.read(id)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	if rec == nil {
		rec = &diskRecord{}
	}
	rec.Pending = updates
	return s.write(id, rec)
}

func (s *Store) ClearPendingSync(ctx context.Context, id string) error {
	return s.MarkPendingSync(ctx, id, nil)
}

func (s *Store) MarkSnapshotSynced(ctx context.Context, id string, generation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok, err := s.read(id)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	if !ok {
		return nil
	}
	if generation > rec.SnapshotGeneration {
		generation = rec.SnapshotGeneration
	}
	if generation > rec.SyncedSnapshotGeneration {
		rec.SyncedSnapshotGeneration = generation
	}
	return s.write(id, rec)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.docDir(id)); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}

var _ storage.Adapter = (*Store)(nil)
