// Package redistore is a Redis-backed storage.Adapter, grounded on the
// teacher's RedisBackend key-naming convention (a prefix plus per-document
// sub-keys), using the real go-redis client rather than the teacher's
// commented-out stub.
package redistore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/docloom/collab-sdk/pkg/storage"
)

// Store is a Redis storage.Adapter. Updates are stored in a list per
// document; the pending-sync backlog in a second list; the snapshot and
// its generations in a hash.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// Config mirrors the teacher's RedisOptions subset this adapter needs.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "docloom:collab:"
}

// New builds a Store over a fresh redis.Client.
func New(cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "docloom:collab:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client, keyPrefix: cfg.KeyPrefix}
}

func (s *Store) updatesKey(id string) string { return s.keyPrefix + "updates:" + id }
func (s *Store) pendingKey(id string) string { return s.keyPrefix + "pending:" + id }
func (s *Store) snapshotKey(id string) string { return s.keyPrefix + "snapshot:" + id }

func (s *Store) GetSnapshot(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	vals, err := s.client.HGetAll(ctx, s.snapshotKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: get snapshot: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	gen, _ := strconv.ParseUint(vals["generation"], 10, 64)
	synced, _ := strconv.ParseUint(vals["synced"], 10, 64)
	return &storage.SnapshotRecord{
		Snapshot:                 []byte(vals["payload"]),
		SnapshotGeneration:       gen,
		SyncedSnapshotGeneration: synced,
	}, nil
}

func (s *Store) GetUpdates(ctx context.Context, id string) ([][]byte, error) {
	exists, err := s.client.Exists(ctx, s.updatesKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: get updates: %w", err)
	}
	if exists == 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.updatesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: get updates: %w", err)
	}
	return stringsToBytes(raw), nil
}

func (s *Store) GetPendingSync(ctx context.Context, id string) ([][]byte, error) {
	raw, err := s.client.LRange(ctx, s.pendingKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: get pending: %w", err)
	}
	return stringsToBytes(raw), nil
}

func (s *Store) AppendUpdate(ctx context.Context, id string, update []byte) error {
	if err := s.client.RPush(ctx, s.updatesKey(id), update).Err(); err != nil {
		return fmt.Errorf("redistore: append update: %w", err)
	}
	return nil
}

func (s *Store) SetSnapshot(ctx context.Context, id string, snapshot []byte) error {
	err := s.client.HIncrBy(ctx, s.snapshotKey(id), "generation", 1).Err()
	if err != nil {
		return fmt.Errorf("redistore: set snapshot: %w", err)
	}
	if err := s.client.HSet(ctx, s.snapshotKey(id), "payload", snapshot).Err(); err != nil {
		return fmt.Errorf("redistore: set snapshot: %w", err)
	}
	return nil
}

func (s *Store) MarkPendingSync(ctx context.Context, id string, updates [][]byte) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.pendingKey(id))
	if len(updates) > 0 {
		args := make([]interface{}, len(updates))
		for i, u := range updates {
			args[i] = u
		}
		pipe.RPush(ctx, s.pendingKey(id), args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redistore: mark pending: %w", err)
	}
	return nil
}

func (s *Store) ClearPendingSync(ctx context.Context, id string) error {
	return s.MarkPendingSync(ctx, id, nil)
}

func (s *Store) MarkSnapshotSynced(ctx context.Context, id string, generation uint64) error {
	vals, err := s.client.HMGet(ctx, s.snapshotKey(id), "generation", "synced").Result()
	if err != nil {
		return fmt.Errorf("redistore: mark snapshot synced: %w", err)
	}
	var currentGen, currentSynced uint64
	if s, ok := vals[0].(string); ok {
		currentGen, _ = strconv.ParseUint(s, 10, 64)
	}
	if s, ok := vals[1].(string); ok {
		currentSynced, _ = strconv.ParseUint(s, 10, 64)
	}
	if generation > currentGen {
		generation = currentGen
	}
	if generation <= currentSynced {
		return nil
	}
	if err := s.client.HSet(ctx, s.snapshotKey(id), "synced", generation).Err(); err != nil {
		return fmt.Errorf("redistore: mark snapshot synced: %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	err := s.client.Del(ctx, s.updatesKey(id), s.pendingKey(id), s.snapshotKey(id)).Err()
	if err != nil {
		return fmt.Errorf("redistore: remove: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

func stringsToBytes(in []string) [][]byte {
	out := make([][]byte, len(in))
	for i, s := range in {
		out[i] = []byte(s)
	}
	return out
}

var _ storage.Adapter = (*Store)(nil)
