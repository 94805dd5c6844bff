package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/tandem/internal/crdt"
)

// Backend is the contract shared by every snapshot store.
type Backend interface {
	SaveSnapshot(ctx context.Context, snap crdt.Snapshot) error
	LoadSnapshot(ctx context.Context, docID string) (crdt.Snapshot, bool, error)
	ListSnapshots(ctx context.Context) ([]Summary, error)
	DeleteSnapshot(ctx context.Context, docID string) error
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*BoltStore)(nil)
	_ Backend = (*PGStore)(nil)
)

// OpenBackend opens the store named by dsn:
//   - "postgres://..." or "postgresql://...": PGStore
//   - "*.bolt" or "*.bbolt": BoltStore
//   - anything else: a SQLite file path
func OpenBackend(ctx context.Context, dsn string) (Backend, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("open store: empty database location")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	case strings.HasSuffix(dsn, ".bolt"), strings.HasSuffix(dsn, ".bbolt"):
		return OpenBolt(dsn)
	default:
		return Open(dsn)
	}
}
