// Package pgstore is a PostgreSQL-backed storage.Adapter, grounded on the
// teacher's PostgreSQLBackend: same schema-per-document-kind layout and
// lib/pq driver, now storing opaque update logs rather than typed state
// versions.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/docloom/collab-sdk/pkg/storage"
)

// Store is a PostgreSQL storage.Adapter. A single connection pool is
// shared across every document; the engine only ever issues one request
// per document at a time, so concurrency here is purely cross-document.
type Store struct {
	db     *sql.DB
	schema string
}

// Config mirrors the teacher's StorageConfig/PostgreSQLOptions subset this
// adapter needs.
type Config struct {
	ConnectionURL  string
	Schema         string // defaults to "public"
	MaxConnections int    // defaults to 10
}

// New opens a connection pool and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	db, err := sql.Open("postgres", cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	s := &Store{db: db, schema: cfg.Schema}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.collab_updates (
				doc_id VARCHAR(255) NOT NULL,
				seq BIGSERIAL,
				payload BYTEA NOT NULL,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				PRIMARY KEY (doc_id, seq)
			)
		`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.collab_pending (
				doc_id VARCHAR(255) NOT NULL,
				seq BIGINT NOT NULL,
				payload BYTEA NOT NULL,
				PRIMARY KEY (doc_id, seq)
			)
		`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.collab_snapshots (
				doc_id VARCHAR(255) PRIMARY KEY,
				payload BYTEA NOT NULL,
				snapshot_generation BIGINT NOT NULL DEFAULT 0,
				synced_snapshot_generation BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ DEFAULT NOW()
			)
		`, s.schema),
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("pgstore: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT payload, snapshot_generation, synced_snapshot_generation FROM %s.collab_snapshots WHERE doc_id = $1`, s.schema), id)
	var rec storage.SnapshotRecord
	err := row.Scan(&rec.Snapshot, &rec.SnapshotGeneration, &rec.SyncedSnapshotGeneration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get snapshot: %w", err)
	}
	return &rec, nil
}

// GetUpdates returns the ordered update log. It returns an empty, non-nil
// slice for an id with no rows, so it does not distinguish an unknown id
// from a known-but-empty one.
func (s *Store) GetUpdates(ctx context.Context, id string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT payload FROM %s.collab_updates WHERE doc_id = $1 ORDER BY seq ASC`, s.schema), id)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get updates: %w", err)
	}
	defer rows.Close()
	updates := [][]byte{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("pgstore: scan update: %w", err)
		}
		updates = append(updates, payload)
	}
	return updates, rows.Err()
}

func (s *Store) GetPendingSync(ctx context.Context, id string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT payload FROM %s.collab_pending WHERE doc_id = $1 ORDER BY seq ASC`, s.schema), id)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get pending: %w", err)
	}
	defer rows.Close()
	pending := [][]byte{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("pgstore: scan pending: %w", err)
		}
		pending = append(pending, payload)
	}
	return pending, rows.Err()
}

func (s *Store) AppendUpdate(ctx context.Context, id string, update []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s.collab_updates (doc_id, payload) VALUES ($1, $2)`, s.schema), id, update)
	if err != nil {
		return fmt.Errorf("pgstore: append update: %w", err)
	}
	return nil
}

func (s *Store) SetSnapshot(ctx context.Context, id string, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.collab_snapshots (doc_id, payload, snapshot_generation, synced_snapshot_generation)
		VALUES ($1, $2, 1, 0)
		ON CONFLICT (doc_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			snapshot_generation = %s.collab_snapshots.snapshot_generation + 1,
			updated_at = NOW()
	`, s.schema, s.schema), id, snapshot)
	if err != nil {
		return fmt.Errorf("pgstore: set snapshot: %w", err)
	}
	return nil
}

func (s *Store) MarkPendingSync(ctx context.Context, id string, updates [][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: mark pending: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.collab_pending WHERE doc_id = $1`, s.schema), id); err != nil {
		return fmt.Errorf("pgstore: mark pending: clear: %w", err)
	}
	for i, u := range updates {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s.collab_pending (doc_id, seq, payload) VALUES ($1, $2, $3)`, s.schema), id, i, u); err != nil {
			return fmt.Errorf("pgstore: mark pending: insert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ClearPendingSync(ctx context.Context, id string) error {
	return s.MarkPendingSync(ctx, id, nil)
}

func (s *Store) MarkSnapshotSynced(ctx context.Context, id string, generation uint64) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.collab_snapshots
		SET synced_snapshot_generation = LEAST($2::BIGINT, snapshot_generation)
		WHERE doc_id = $1 AND synced_snapshot_generation < LEAST($2::BIGINT, snapshot_generation)
	`, s.schema), id, generation)
	if err != nil {
		return fmt.Errorf("pgstore: mark snapshot synced: %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: remove: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"collab_updates", "collab_pending", "collab_snapshots"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.%s WHERE doc_id = $1`, s.schema, table), id); err != nil {
			return fmt.Errorf("pgstore: remove: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

var _ storage.Adapter = (*Store)(nil)
