package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/tandem/internal/crdt"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS tandem_snapshots (
    doc_id   TEXT PRIMARY KEY,
    version  BIGINT NOT NULL,
    clock    TEXT NOT NULL,
    content  TEXT NOT NULL,
    digest   TEXT NOT NULL,
    state    BYTEA NOT NULL,
    taken_at BIGINT NOT NULL
)`

// PGStore keeps the latest snapshot of each document in PostgreSQL, so
// several relay instances can share one database.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and creates the snapshot table if needed.
func OpenPostgres(ctx context.Context, url string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveSnapshot upserts snap. An older version never replaces a newer one.
func (s *PGStore) SaveSnapshot(ctx context.Context, snap crdt.Snapshot) error {
	rec, err := newRecord(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tandem_snapshots (doc_id, version, clock, content, digest, state, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (doc_id) DO UPDATE SET
			version  = EXCLUDED.version,
			clock    = EXCLUDED.clock,
			content  = EXCLUDED.content,
			digest   = EXCLUDED.digest,
			state    = EXCLUDED.state,
			taken_at = EXCLUDED.taken_at
		WHERE EXCLUDED.version >= tandem_snapshots.version
	`,
		rec.DocID,
		int64(rec.Version),
		rec.Clock,
		rec.Content,
		rec.Digest,
		rec.State,
		rec.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.DocID, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot of docID. found is false when
// there is none.
func (s *PGStore) LoadSnapshot(ctx context.Context, docID string) (crdt.Snapshot, bool, error) {
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM tandem_snapshots WHERE doc_id = $1`, docID,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return crdt.Snapshot{}, false, nil
	}
	if err != nil {
		return crdt.Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", docID, err)
	}
	snap, err := DecodeSnapshot(state)
	if err != nil {
		return crdt.Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", docID, err)
	}
	return snap, true, nil
}

// ListSnapshots summarizes every stored snapshot, ordered by document ID.
func (s *PGStore) ListSnapshots(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc_id, version, clock, content, digest, taken_at
		FROM tandem_snapshots
		ORDER BY doc_id COLLATE "C"
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var sum Summary
		var version int64
		err := row.Scan(&sum.DocID, &version, &sum.Clock, &sum.Content, &sum.Digest, &sum.TakenAt)
		sum.Version = int(version)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes the snapshot of docID.
func (s *PGStore) DeleteSnapshot(ctx context.Context, docID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tandem_snapshots WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", docID, err)
	}
	return nil
}
