package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Scenarios(t *testing.T) {
	for _, name := range []string{"concurrent_insert", "causal_buffering"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			// First run with -update to create golden files:
			//   go test ./internal/harness -run TestRunWithGolden -update
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestCanonicalJSONDeterminism(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/concurrent_delete.yaml")
	require.NoError(t, err)

	var outputs [][]byte
	for range 5 {
		result, err := Run(scenario)
		require.NoError(t, err)
		snapshot := NewTraceSnapshot(scenario, result)
		data, err := snapshot.MarshalCanonical()
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	for _, out := range outputs[1:] {
		assert.Equal(t, outputs[0], out)
	}
}

func TestTraceSnapshot_OmitsEmptyFields(t *testing.T) {
	scenario := twoSiteInsert()
	result, err := Run(scenario)
	require.NoError(t, err)

	snapshot := NewTraceSnapshot(scenario, result)
	assert.Equal(t, DefaultDocID, snapshot.DocID)

	data, err := snapshot.MarshalCanonical()
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `"doc_id":"doc"`)
	assert.Contains(t, out, `{"content":"hi","intent":"insert(0, \"hi\")","op_id":"alice-1","seq":1,"site":"alice","step":1,"type":"local"}`)
	assert.NotContains(t, out, "digest")
	assert.NotContains(t, out, "messages")
}
