package harness

import (
	"github.com/roach88/tandem/internal/vclock"
)

// Trace event types.
const (
	TraceLocal   = "local"
	TraceDeliver = "deliver"
	TraceDrop    = "drop"
	TraceSync    = "sync"
)

// TraceEvent records one thing that happened to one site.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Step int    `json:"step"` // 1-based scenario step
	Type string `json:"type"`

	// Site is the editing site for local events and the receiving site
	// otherwise.
	Site string `json:"site"`
	From string `json:"from,omitempty"`

	OpID    string `json:"op_id,omitempty"`
	Intent  string `json:"intent,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`

	// Content is Site's text after the event.
	Content string `json:"content"`
}

// SiteState is the final state of one replica.
type SiteState struct {
	Content  string         `json:"content"`
	Clock    vclock.Clock   `json:"clock"`
	Digest   string         `json:"digest"`
	Pending  int            `json:"pending"`
	Messages []string       `json:"messages"`
	Events   map[string]int `json:"events"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every local edit and network delivery in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Sites holds the final state of every replica.
	Sites map[string]SiteState `json:"sites"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Sites:  make(map[string]SiteState),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends ev to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
