package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tandem/internal/crdt"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on snapshots.taken_at for listings
const currentSchemaVersion = 1

// maxBusyRetries bounds retries of writes that fail with SQLITE_BUSY.
const maxBusyRetries = 5

// Store keeps the latest snapshot of each document in SQLite.
// Uses WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveSnapshot upserts snap. An older version never replaces a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, snap crdt.Snapshot) error {
	rec, err := newRecord(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	err = s.retryBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO snapshots (doc_id, version, clock, content, digest, state, taken_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				version  = excluded.version,
				clock    = excluded.clock,
				content  = excluded.content,
				digest   = excluded.digest,
				state    = excluded.state,
				taken_at = excluded.taken_at
			WHERE excluded.version >= snapshots.version
		`,
			rec.DocID,
			rec.Version,
			rec.Clock,
			rec.Content,
			rec.Digest,
			rec.State,
			rec.TakenAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.DocID, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot of docID. found is false when
// there is none.
func (s *Store) LoadSnapshot(ctx context.Context, docID string) (crdt.Snapshot, bool, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE doc_id = ?`, docID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
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
func (s *Store) ListSnapshots(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, version, clock, content, digest, taken_at
		FROM snapshots
		ORDER BY doc_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.DocID, &sum.Version, &sum.Clock, &sum.Content, &sum.Digest, &sum.TakenAt); err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes the snapshot of docID. Deleting a missing
// snapshot is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, docID string) error {
	err := s.retryBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE doc_id = ?`, docID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", docID, err)
	}
	return nil
}

// retryBusy runs fn until it succeeds, fails with something other than
// SQLITE_BUSY/SQLITE_LOCKED, or the retry budget runs out.
func (s *Store) retryBusy(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxBusyRetries), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil || isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes snapshots by age for `tandem inspect` listings.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at
		ON snapshots(taken_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
