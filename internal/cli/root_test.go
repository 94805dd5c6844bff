package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tandem", cmd.Use)
	assert.Contains(t, cmd.Long, "concurrently")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "client", "simulate", "inspect", "replay", "config"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"site", "listen", "db", "doc", "relay"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), "flag %s", name)
	}
	assert.Equal(t, "true", serveCmd.Flags().Lookup("relay").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"config", "--format", "yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestConfigCommand_PrintsDefaults(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"config"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, `listen:`)
	assert.Contains(t, out, `":8080"`)
	assert.Contains(t, out, `snapshot_interval:`)
}

func TestConfigCommand_InvalidFile(t *testing.T) {
	path := writeFile(t, "bad.cue", `transport: max_reconnect_attempts: 0`)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"config", "--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSiteID(t *testing.T) {
	assert.Equal(t, "alice", siteID("alice"))

	generated := siteID("")
	assert.True(t, strings.HasPrefix(generated, "site-"))
	assert.Len(t, generated, len("site-")+8)
	assert.NotEqual(t, generated, siteID(""))
}

func TestListenPort(t *testing.T) {
	port, err := listenPort(":8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	port, err = listenPort("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	_, err = listenPort("localhost")
	assert.Error(t, err)

	_, err = listenPort(":0")
	assert.Error(t, err)
}
