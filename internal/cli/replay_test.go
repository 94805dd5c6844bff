package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/ir"
)

func TestReplay_Consistent(t *testing.T) {
	db := seedStore(t, "notes", ir.Insert(0, "hello"), ir.Delete(0, 1), ir.Insert(4, "!"))
	buf := &bytes.Buffer{}

	opts := &ReplayOptions{RootOptions: &RootOptions{Format: "text"}, Database: db}
	require.NoError(t, runReplay(context.Background(), opts, "notes", buf))

	out := buf.String()
	assert.Contains(t, out, "Replayed 3 operations of notes")
	assert.Contains(t, out, `"ello!"`)
	assert.Contains(t, out, "Replay matches snapshot.")
}

func TestReplay_JSON(t *testing.T) {
	db := seedStore(t, "notes", ir.Insert(0, "ab"), ir.AddMessage("m"))
	buf := &bytes.Buffer{}

	opts := &ReplayOptions{RootOptions: &RootOptions{Format: "json"}, Database: db}
	require.NoError(t, runReplay(context.Background(), opts, "notes", buf))

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.True(t, resp.Data.Consistent)
	assert.Equal(t, 2, resp.Data.Operations)
	assert.Equal(t, "{alice:2}", resp.Data.ReplayedClock)
}

func TestReplay_UnknownDocument(t *testing.T) {
	db := seedStore(t, "notes", ir.Insert(0, "x"))

	opts := &ReplayOptions{RootOptions: &RootOptions{Format: "text"}, Database: db}
	err := runReplay(context.Background(), opts, "missing", &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplaySnapshot_DetectsDivergence(t *testing.T) {
	doc := crdt.New("notes", "alice")
	_, err := doc.ApplyLocal(ir.Insert(0, "abc"))
	require.NoError(t, err)

	snap := doc.Snapshot()
	snap.Content = "tampered"

	result, err := replaySnapshot(snap)
	require.NoError(t, err)
	assert.False(t, result.Consistent)
	assert.Equal(t, "abc", result.Replayed)
}
