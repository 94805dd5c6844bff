package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/vclock"
)

func populated(t *testing.T) (*Document, ir.Operation) {
	t.Helper()
	a := New("doc", "A", WithNow(fixedNow(1000)))
	b := New("doc", "B", WithNow(fixedNow(2000)))

	local(t, a, ir.Insert(0, "hello"))
	remote(t, b, a.OperationsSince(vclock.New())[0])
	local(t, b, ir.Insert(5, " world"))
	local(t, b, ir.AddMessage("hi"))
	local(t, b, ir.Delete(0, 1))
	blocked := local(t, b, ir.Insert(0, "J"))

	for _, op := range b.OperationsSince(a.Clock())[:2] {
		remote(t, a, op)
	}
	// B-4 ("J") reaches A before B-3: it waits in the pending queue.
	require.Equal(t, Buffered, remote(t, a, blocked))
	a.Drain()
	return a, b.OperationsSince(vclock.Clock{"A": 1, "B": 2})[0]
}

func TestSnapshot_RestoreFromItems(t *testing.T) {
	a, missing := populated(t)
	snap := a.Snapshot()

	assert.Equal(t, "doc", snap.DocID)
	assert.Equal(t, "hello world", snap.Content)
	assert.Equal(t, vclock.Clock{"A": 1, "B": 2}, snap.Clock)
	assert.Equal(t, 3, snap.Version)
	assert.Len(t, snap.Operations, 3)
	assert.Len(t, snap.Pending, 1)
	assert.NotEmpty(t, snap.Items)
	assert.Equal(t, int64(1000), snap.TakenAt)

	restored, err := Restore(snap, "A", WithNow(fixedNow(1000)))
	require.NoError(t, err)
	assert.Equal(t, a.Content(), restored.Content())
	assert.Equal(t, a.Clock(), restored.Clock())
	assert.Equal(t, a.Messages(), restored.Messages())
	assert.Equal(t, 1, restored.PendingCount())
	assert.Empty(t, restored.Drain())

	// The restored replica keeps converging with the original.
	assert.Equal(t, Applied, remote(t, restored, missing))
	assert.Equal(t, Applied, remote(t, a, missing))
	assert.Equal(t, "Jello world", restored.Content())
	assert.Equal(t, a.Content(), restored.Content())
}

func TestSnapshot_RestoreByReplay(t *testing.T) {
	a, _ := populated(t)
	snap := a.Snapshot()
	snap.Items = nil

	restored, err := Restore(snap, "C")
	require.NoError(t, err)
	assert.Equal(t, "hello world", restored.Content())
	assert.Equal(t, a.Clock(), restored.Clock())
	assert.Equal(t, 3, restored.Version())
	assert.Equal(t, "C", restored.Site())

	op, err := restored.ApplyLocal(ir.Insert(0, ">"))
	require.NoError(t, err)
	assert.Equal(t, "C-1", op.ID)
}

func TestSnapshot_RestoreDetectsMismatch(t *testing.T) {
	a, _ := populated(t)

	snap := a.Snapshot()
	snap.Content = "tampered"
	_, err := Restore(snap, "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content mismatch")

	snap = a.Snapshot()
	snap.Operations = snap.Operations[1:]
	snap.Items = nil
	_, err = Restore(snap, "A")
	require.Error(t, err)
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	a, _ := populated(t)
	snap := a.Snapshot()
	snap.Items[0].Deleted = append(snap.Items[0].Deleted, ir.Ref{Site: "Z", Counter: 9})
	snap.Clock["Z"] = 9

	assert.Equal(t, "hello world", a.Content())
	assert.Equal(t, vclock.Clock{"A": 1, "B": 2}, a.Clock())
}
