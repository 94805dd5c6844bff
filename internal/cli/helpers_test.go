package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// seedStore writes a snapshot of docID after intents into a fresh SQLite
// store and returns the store path.
func seedStore(t *testing.T, docID string, intents ...ir.Intent) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tandem.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	now := func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	doc := crdt.New(docID, "alice", crdt.WithNow(now))
	for _, in := range intents {
		_, err := doc.ApplyLocal(in)
		require.NoError(t, err)
	}
	require.NoError(t, st.SaveSnapshot(context.Background(), doc.Snapshot()))
	return path
}
