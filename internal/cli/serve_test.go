package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/config"
)

func TestRunServe_StopsOnContextEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Site = "server"
	cfg.Listen = "127.0.0.1:0"
	cfg.Database = filepath.Join(t.TempDir(), "serve.db")
	cfg.Documents = []string{"notes"}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, runServe(ctx, cfg))
}

func TestRunServe_MissingPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Database = filepath.Join(t.TempDir(), "serve.db")
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")

	err := runServe(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
