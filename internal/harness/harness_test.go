package harness

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/vclock"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func twoSiteInsert() *Scenario {
	return &Scenario{
		Name:        "two_site_insert",
		Description: "alice types, bob receives",
		Sites:       []string{"alice", "bob"},
		Steps: []Step{
			{Site: "alice", Insert: &InsertStep{Position: 0, Content: "hi"}},
			{Deliver: &Link{From: "alice", To: "bob"}},
		},
		Assertions: []Assertion{
			{Type: AssertConverged},
			{Type: AssertContent, Site: "bob", Equals: strPtr("hi")},
		},
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(twoSiteInsert())
	require.NoError(t, err)

	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Trace, 2)

	assert.Equal(t, TraceEvent{
		Seq: 1, Step: 1, Type: TraceLocal, Site: "alice",
		OpID: "alice-1", Intent: `insert(0, "hi")`, Content: "hi",
	}, result.Trace[0])
	assert.Equal(t, TraceEvent{
		Seq: 2, Step: 2, Type: TraceDeliver, Site: "bob", From: "alice",
		OpID: "alice-1", Outcome: "applied", Content: "hi",
	}, result.Trace[1])

	bob := result.Sites["bob"]
	assert.Equal(t, "hi", bob.Content)
	assert.True(t, bob.Clock.Equal(vclock.Clock{"alice": 1}))
	assert.Equal(t, 1, bob.Events["operation_applied"])
	assert.Equal(t, result.Sites["alice"].Digest, bob.Digest)
}

func TestRun_ExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/concurrent_delete.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Sites, second.Sites)
}

func TestRun_UndeliveredOperationsDiverge(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps = scenario.Steps[:1]

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: converged")
	assert.Contains(t, result.Errors[1], "Assertion failed: content")
}

func TestRun_DropLosesOperation(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps = []Step{
		{Site: "alice", Insert: &InsertStep{Position: 0, Content: "hi"}},
		{Drop: &Link{From: "alice", To: "bob"}},
		{Deliver: &Link{From: "alice", To: "bob"}},
	}
	scenario.Assertions = []Assertion{
		{Type: AssertContent, Site: "bob", Equals: strPtr("")},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceDrop, result.Trace[1].Type)
	assert.Equal(t, "alice-1", result.Trace[1].OpID)
}

func TestRun_SyncRepairsDrop(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps = []Step{
		{Site: "alice", Insert: &InsertStep{Position: 0, Content: "hi"}},
		{Drop: &Link{From: "alice", To: "bob"}},
		{Sync: &Link{From: "alice", To: "bob"}, Expect: &ExpectClause{Outcome: "applied"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, TraceSync, result.Trace[2].Type)
}

func TestRun_RedeliveryIsDuplicate(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps = []Step{
		{Site: "alice", Insert: &InsertStep{Position: 0, Content: "hi"}},
		{Sync: &Link{From: "alice", To: "bob"}},
		{Deliver: &Link{From: "alice", To: "bob"}, Expect: &ExpectClause{Outcome: "duplicate"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_ExpectationMismatch(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps[1].Expect = &ExpectClause{Outcome: "buffered"}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors, "step 2: expected outcome buffered, got applied")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps[0].Expect = &ExpectClause{Error: "INVALID_OPERATION"}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors, "step 1: expected error INVALID_OPERATION, got none")
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps = []Step{
		{Site: "alice", Delete: &DeleteStep{Position: 0, Length: 1}},
	}
	scenario.Assertions = []Assertion{{Type: AssertConverged}}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"step 1: unexpected error INVALID_OPERATION"}, result.Errors)
	assert.Equal(t, "INVALID_OPERATION", result.Trace[0].Error)
	assert.Empty(t, result.Trace[0].OpID)
}

func TestRun_DeliverUnknownOperation(t *testing.T) {
	scenario := twoSiteInsert()
	scenario.Steps[1].Deliver.Op = "alice-9"

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2 (deliver)")
	assert.Contains(t, err.Error(), "no queued operation alice-9")
}

func TestRun_PinnedTimestampsOrderMessages(t *testing.T) {
	scenario := &Scenario{
		Name:        "pinned",
		Description: "the earlier message sorts first regardless of step order",
		Sites:       []string{"alice", "bob"},
		Steps: []Step{
			{Site: "alice", At: 2000, Message: strPtr("second")},
			{Site: "bob", At: 1000, Message: strPtr("first")},
			{SyncAll: true},
		},
		Assertions: []Assertion{
			{Type: AssertConverged},
			{Type: AssertMessages, Site: "alice", Messages: []string{"first", "second"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := Run(twoSiteInsert(), WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "op_id=alice-1")
	assert.Contains(t, buf.String(), "type=deliver")
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}

func TestEvaluateAssertions_EventCount(t *testing.T) {
	result := NewResult()
	result.Sites["a"] = SiteState{Events: map[string]int{"conflict_detected": 2}}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertEventCount, Site: "a", Kind: "conflict_detected", Count: intPtr(2)},
		{Type: AssertEventCount, Site: "a", Kind: "causality_overflow", Count: intPtr(1)},
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertion 1")
	assert.Contains(t, errs[0], "a raised 1 causality_overflow events")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "bogus"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "bogus"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertContent,
		Expected: `bob content "hi"`,
		Actual:   `""`,
		Trace: []TraceEvent{
			{Seq: 1, Step: 1, Type: TraceLocal, Site: "alice", OpID: "alice-1", Content: "hi"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: content")
	assert.Contains(t, msg, `Expected: bob content "hi"`)
	assert.Contains(t, msg, "[1] step 1 local alice alice-1")
}
