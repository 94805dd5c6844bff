package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltStore_Contract(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "test.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	testBackendContract(t, s)
}
