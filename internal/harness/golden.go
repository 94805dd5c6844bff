package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tandem/internal/ir"
)

// TraceSnapshot captures the trace and final replica state of a run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	DocID        string
	Trace        []TraceEvent
	Sites        map[string]SiteState
}

// NewTraceSnapshot builds the snapshot of a scenario's result.
func NewTraceSnapshot(scenario *Scenario, result *Result) TraceSnapshot {
	docID := scenario.DocID
	if docID == "" {
		docID = DefaultDocID
	}
	return TraceSnapshot{
		ScenarioName: scenario.Name,
		DocID:        docID,
		Trace:        result.Trace,
		Sites:        result.Sites,
	}
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
//
// Digests are left out: they are derived from content, clock and
// transcript, and would make golden files unreadable.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"step":    ev.Step,
			"type":    ev.Type,
			"site":    ev.Site,
			"content": ev.Content,
		}
		if ev.From != "" {
			m["from"] = ev.From
		}
		if ev.OpID != "" {
			m["op_id"] = ev.OpID
		}
		if ev.Intent != "" {
			m["intent"] = ev.Intent
		}
		if ev.Outcome != "" {
			m["outcome"] = ev.Outcome
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		traceList[i] = m
	}

	final := make(map[string]any, len(s.Sites))
	for site, state := range s.Sites {
		m := map[string]any{
			"content": state.Content,
			"clock":   state.Clock,
			"pending": state.Pending,
		}
		if len(state.Messages) > 0 {
			m["messages"] = state.Messages
		}
		final[site] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"doc_id":        s.DocID,
		"trace":         traceList,
		"final":         final,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	snapshot := NewTraceSnapshot(scenario, result)
	traceJSON, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
