package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/ir"
)

// createTestStore creates a new SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fixedNow() time.Time { return time.UnixMilli(1_700_000_000_000) }

// createTestSnapshot builds a snapshot of docID after applying intents.
func createTestSnapshot(t *testing.T, docID string, intents ...ir.Intent) crdt.Snapshot {
	t.Helper()
	doc := crdt.New(docID, "A", crdt.WithNow(fixedNow))
	for _, in := range intents {
		_, err := doc.ApplyLocal(in)
		require.NoError(t, err)
	}
	return doc.Snapshot()
}

// testBackendContract exercises the behavior every backend shares.
func testBackendContract(t *testing.T, b Backend) {
	ctx := context.Background()

	_, found, err := b.LoadSnapshot(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	v2 := createTestSnapshot(t, "notes", ir.Insert(0, "hello"), ir.AddMessage("hi"))
	require.NoError(t, b.SaveSnapshot(ctx, v2))

	got, found, err := b.LoadSnapshot(ctx, "notes")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v2.Content, got.Content)
	assert.Equal(t, v2.Clock, got.Clock)
	assert.Equal(t, v2.Version, got.Version)
	assert.Len(t, got.Operations, 2)

	restored, err := crdt.Restore(got, "A")
	require.NoError(t, err)
	assert.Equal(t, "hello", restored.Content())

	// An older version does not overwrite a newer one.
	v1 := createTestSnapshot(t, "notes", ir.Insert(0, "stale"))
	require.NoError(t, b.SaveSnapshot(ctx, v1))
	got, _, err = b.LoadSnapshot(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)

	v3 := createTestSnapshot(t, "notes", ir.Insert(0, "hello"), ir.AddMessage("hi"), ir.Delete(0, 1))
	require.NoError(t, b.SaveSnapshot(ctx, v3))
	got, _, err = b.LoadSnapshot(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "ello", got.Content)

	require.NoError(t, b.SaveSnapshot(ctx, createTestSnapshot(t, "alpha", ir.Insert(0, "a"))))
	sums, err := b.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "alpha", sums[0].DocID)
	assert.Equal(t, "notes", sums[1].DocID)
	assert.Equal(t, 3, sums[1].Version)
	assert.Equal(t, `{"A":3}`, sums[1].Clock)

	doc, err := crdt.Restore(got, "A")
	require.NoError(t, err)
	digest, err := doc.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, sums[1].Digest)

	require.NoError(t, b.DeleteSnapshot(ctx, "alpha"))
	require.NoError(t, b.DeleteSnapshot(ctx, "alpha"))
	sums, err = b.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}
