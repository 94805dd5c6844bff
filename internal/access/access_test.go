package access

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
default: deny
rules:
  - site: alice
    documents: ["notes/*", "todo"]
  - site: "*"
    documents: ["archive/*"]
    read_only: true
  - site: "*"
    documents: ["public/*", "archive/*"]
`

func TestAllowAll(t *testing.T) {
	assert.True(t, AllowAll{}.CanWrite("anyone", "anything"))
}

func TestPolicy_CanWrite(t *testing.T) {
	p, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)

	tests := []struct {
		site, doc string
		want      bool
	}{
		{"alice", "notes/today", true},
		{"alice", "todo", true},
		{"bob", "todo", false},
		{"bob", "public/readme", true},
		{"alice", "archive/2024", false},
		{"bob", "private", false},
	}
	for _, tt := range tests {
		t.Run(tt.site+"/"+tt.doc, func(t *testing.T) {
			assert.Equal(t, tt.want, p.CanWrite(tt.site, tt.doc))
		})
	}
}

func TestPolicy_DefaultAllow(t *testing.T) {
	p, err := ParsePolicy([]byte("rules: []"))
	require.NoError(t, err)
	assert.True(t, p.CanWrite("bob", "anything"))
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name, yaml, contains string
	}{
		{"bad default", "default: maybe", "policy default"},
		{"missing site", "rules:\n  - documents: [x]", "site is required"},
		{"no documents", "rules:\n  - site: a", "document pattern is required"},
		{"bad pattern", "rules:\n  - site: a\n    documents: ['[']", "bad document pattern"},
		{"not yaml", "rules: [", "parse policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestReloadable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("default: deny"), 0o644))

	r, err := NewReloadable(file)
	require.NoError(t, err)
	assert.False(t, r.CanWrite("alice", "doc"))

	require.NoError(t, os.WriteFile(file, []byte("default: allow"), 0o644))
	require.NoError(t, r.Reload())
	assert.True(t, r.CanWrite("alice", "doc"))

	require.NoError(t, os.WriteFile(file, []byte("default: nope"), 0o644))
	assert.Error(t, r.Reload())
	assert.True(t, r.CanWrite("alice", "doc"), "failed reload keeps the old policy")
}
