package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
doc_id: notes
sites: [alice, bob]
steps:
  - site: alice
    insert: { position: 0, content: "hi" }
  - deliver: { from: alice, to: bob }
    expect: { outcome: applied }
assertions:
  - type: content
    site: bob
    equals: "hi"
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "notes", scenario.DocID)
	assert.Equal(t, []string{"alice", "bob"}, scenario.Sites)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, StepInsert, scenario.Steps[0].Kind())
	assert.Equal(t, StepDeliver, scenario.Steps[1].Kind())
	assert.Equal(t, "applied", scenario.Steps[1].Expect.Outcome)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, "hi", *scenario.Assertions[0].Equals)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	path := writeScenario(t, "name: [unclosed")
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Misspelled key"
sites: [alice]
steps:
  - site: alice
    insert: { position: 0, content: "x" }
assertion:
  - type: converged
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing name",
			yaml: `
description: d
sites: [a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: converged }]`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			yaml: `
name: n
sites: [a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: converged }]`,
			wantErr: "description is required",
		},
		{
			name: "missing sites",
			yaml: `
name: n
description: d
steps: [{ site: a, message: "x" }]
assertions: [{ type: converged }]`,
			wantErr: "sites list is required",
		},
		{
			name: "duplicate site",
			yaml: `
name: n
description: d
sites: [a, a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: converged }]`,
			wantErr: `duplicate site "a"`,
		},
		{
			name: "missing steps",
			yaml: `
name: n
description: d
sites: [a]
assertions: [{ type: converged }]`,
			wantErr: "steps list is required",
		},
		{
			name: "missing assertions",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x" }]`,
			wantErr: "assertions list is required",
		},
		{
			name: "step without action",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a }]
assertions: [{ type: converged }]`,
			wantErr: "steps[0]: one of",
		},
		{
			name: "step with two actions",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x", sync_all: true }]
assertions: [{ type: converged }]`,
			wantErr: "only one action allowed",
		},
		{
			name: "edit at unknown site",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: z, message: "x" }]
assertions: [{ type: converged }]`,
			wantErr: `unknown site "z"`,
		},
		{
			name: "deliver on unknown link",
			yaml: `
name: n
description: d
sites: [a, b]
steps: [{ deliver: { from: a, to: z } }]
assertions: [{ type: converged }]`,
			wantErr: "unknown link a -> z",
		},
		{
			name: "deliver to self",
			yaml: `
name: n
description: d
sites: [a, b]
steps: [{ deliver: { from: a, to: a } }]
assertions: [{ type: converged }]`,
			wantErr: "is a loop",
		},
		{
			name: "sync with op",
			yaml: `
name: n
description: d
sites: [a, b]
steps: [{ sync: { from: a, to: b, op: a-1 } }]
assertions: [{ type: converged }]`,
			wantErr: "sync does not take op",
		},
		{
			name: "empty expect",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x", expect: {} }]
assertions: [{ type: converged }]`,
			wantErr: "outcome or error is required",
		},
		{
			name: "unknown outcome",
			yaml: `
name: n
description: d
sites: [a, b]
steps: [{ deliver: { from: a, to: b }, expect: { outcome: lost } }]
assertions: [{ type: converged }]`,
			wantErr: `unknown outcome "lost"`,
		},
		{
			name: "content without equals",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: content, site: a }]`,
			wantErr: "equals is required",
		},
		{
			name: "pending without count",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: pending, site: a }]`,
			wantErr: "non-negative count is required for pending",
		},
		{
			name: "event_count without kind",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: event_count, site: a, count: 1 }]`,
			wantErr: "kind is required",
		},
		{
			name: "assertion on unknown site",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: pending, site: z, count: 0 }]`,
			wantErr: `unknown site "z"`,
		},
		{
			name: "unknown assertion type",
			yaml: `
name: n
description: d
sites: [a]
steps: [{ site: a, message: "x" }]
assertions: [{ type: final_state, site: a }]`,
			wantErr: `unknown assertion type "final_state"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_ZeroCountAllowed(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: n
description: d
sites: [a]
steps: [{ site: a, message: "" }]
assertions:
  - { type: pending, site: a, count: 0 }
  - { type: messages, site: a, messages: [""] }
`))
	require.NoError(t, err)
	assert.Equal(t, StepMessage, scenario.Steps[0].Kind())
	assert.Equal(t, 0, *scenario.Assertions[0].Count)
}

func TestStep_Intent(t *testing.T) {
	payload := "hey"
	tests := []struct {
		step Step
		want string
	}{
		{Step{Insert: &InsertStep{Position: 1, Content: "x"}}, `insert(1, "x")`},
		{Step{Delete: &DeleteStep{Position: 2, Length: 3}}, "delete(2, 3)"},
		{Step{Message: &payload}, `message("hey")`},
	}
	for _, tt := range tests {
		intent, ok := tt.step.Intent()
		require.True(t, ok)
		assert.Equal(t, tt.want, intent.String())
	}

	_, ok := Step{SyncAll: true}.Intent()
	assert.False(t, ok)
}

func TestLoadExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}
