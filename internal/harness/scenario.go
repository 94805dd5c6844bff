package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tandem/internal/ir"
)

// DefaultDocID is used when a scenario does not name its document.
const DefaultDocID = "doc"

// Scenario defines a simulation: sites, the steps they take and the
// assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// DocID names the shared document. Defaults to DefaultDocID.
	DocID string `yaml:"doc_id,omitempty"`

	// Sites lists the participating replicas.
	Sites []string `yaml:"sites"`

	// PendingCapacity bounds each site's pending queue. Zero selects the
	// document default.
	PendingCapacity int `yaml:"pending_capacity,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of the action fields is set.
type Step struct {
	// Site performs local edits.
	Site string `yaml:"site,omitempty"`

	// At pins the timestamp (unix milliseconds) of a local edit.
	At int64 `yaml:"at,omitempty"`

	Insert  *InsertStep `yaml:"insert,omitempty"`
	Delete  *DeleteStep `yaml:"delete,omitempty"`
	Message *string     `yaml:"message,omitempty"`

	Deliver *Link `yaml:"deliver,omitempty"`
	Drop    *Link `yaml:"drop,omitempty"`
	Sync    *Link `yaml:"sync,omitempty"`
	SyncAll bool  `yaml:"sync_all,omitempty"`

	// Expect checks the step's outcome. If nil, the step must not fail.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// InsertStep inserts content at a visible position.
type InsertStep struct {
	Position int    `yaml:"position"`
	Content  string `yaml:"content"`
}

// DeleteStep deletes length characters starting at a visible position.
type DeleteStep struct {
	Position int `yaml:"position"`
	Length   int `yaml:"length"`
}

// Link addresses the directed network link from one site to another.
type Link struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`

	// Op restricts deliver and drop to the envelope carrying this
	// operation ID. Empty means every queued envelope.
	Op string `yaml:"op,omitempty"`
}

// ExpectClause specifies the expected result of a step.
type ExpectClause struct {
	// Outcome is the expected apply outcome of every delivered envelope:
	// applied, buffered, duplicate or rejected.
	Outcome string `yaml:"outcome,omitempty"`

	// Error is the expected ir.ErrorCode.
	Error string `yaml:"error,omitempty"`
}

// Step kinds.
const (
	StepInsert  = "insert"
	StepDelete  = "delete"
	StepMessage = "message"
	StepDeliver = "deliver"
	StepDrop    = "drop"
	StepSync    = "sync"
	StepSyncAll = "sync_all"
)

// Kind names the action a step performs, or "" if it sets none.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s Step) kinds() []string {
	var kinds []string
	if s.Insert != nil {
		kinds = append(kinds, StepInsert)
	}
	if s.Delete != nil {
		kinds = append(kinds, StepDelete)
	}
	if s.Message != nil {
		kinds = append(kinds, StepMessage)
	}
	if s.Deliver != nil {
		kinds = append(kinds, StepDeliver)
	}
	if s.Drop != nil {
		kinds = append(kinds, StepDrop)
	}
	if s.Sync != nil {
		kinds = append(kinds, StepSync)
	}
	if s.SyncAll {
		kinds = append(kinds, StepSyncAll)
	}
	return kinds
}

// Intent returns the local edit of an insert, delete or message step.
func (s Step) Intent() (ir.Intent, bool) {
	switch {
	case s.Insert != nil:
		return ir.Insert(s.Insert.Position, s.Insert.Content), true
	case s.Delete != nil:
		return ir.Delete(s.Delete.Position, s.Delete.Length), true
	case s.Message != nil:
		return ir.AddMessage(*s.Message), true
	}
	return ir.Intent{}, false
}

// Assertion validates the final state of one site or of all of them.
type Assertion struct {
	// Type specifies the assertion type:
	// - "content": Site's text equals Equals
	// - "converged": all sites share one digest
	// - "pending": Site holds Count buffered operations
	// - "clock": Site's vector clock equals Clock
	// - "messages": Site's transcript payloads equal Messages
	// - "event_count": Site raised Count events of Kind
	Type string `yaml:"type"`

	Site string `yaml:"site,omitempty"`

	Equals   *string           `yaml:"equals,omitempty"`
	Count    *int              `yaml:"count,omitempty"`
	Clock    map[string]uint64 `yaml:"clock,omitempty"`
	Messages []string          `yaml:"messages,omitempty"`
	Kind     string            `yaml:"kind,omitempty"`
}

// Assertion type constants.
const (
	AssertContent    = "content"
	AssertConverged  = "converged"
	AssertPending    = "pending"
	AssertClock      = "clock"
	AssertMessages   = "messages"
	AssertEventCount = "event_count"
)

var outcomes = []string{"applied", "buffered", "duplicate", "rejected"}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sites) == 0 {
		return fmt.Errorf("sites list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.PendingCapacity < 0 {
		return fmt.Errorf("pending_capacity must be non-negative")
	}

	seen := make(map[string]bool, len(s.Sites))
	for i, site := range s.Sites {
		if site == "" {
			return fmt.Errorf("sites[%d]: name is required", i)
		}
		if seen[site] {
			return fmt.Errorf("sites[%d]: duplicate site %q", i, site)
		}
		seen[site] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, seen); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, sites map[string]bool) error {
	kinds := step.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("steps[%d]: one of insert, delete, message, deliver, drop, sync, sync_all is required", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: only one action allowed, got %v", index, kinds)
	}

	switch kinds[0] {
	case StepInsert, StepDelete, StepMessage:
		if !sites[step.Site] {
			return fmt.Errorf("steps[%d]: unknown site %q", index, step.Site)
		}
	case StepDeliver, StepDrop, StepSync:
		link := step.Deliver
		if link == nil {
			link = step.Drop
		}
		if link == nil {
			link = step.Sync
		}
		if !sites[link.From] || !sites[link.To] {
			return fmt.Errorf("steps[%d]: unknown link %s -> %s", index, link.From, link.To)
		}
		if link.From == link.To {
			return fmt.Errorf("steps[%d]: link %s -> %s is a loop", index, link.From, link.To)
		}
		if step.Sync != nil && link.Op != "" {
			return fmt.Errorf("steps[%d]: sync does not take op", index)
		}
	}

	if step.Expect != nil {
		if step.Expect.Outcome == "" && step.Expect.Error == "" {
			return fmt.Errorf("steps[%d].expect: outcome or error is required", index)
		}
		if step.Expect.Outcome != "" && !slices.Contains(outcomes, step.Expect.Outcome) {
			return fmt.Errorf("steps[%d].expect: unknown outcome %q", index, step.Expect.Outcome)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, sites map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Type != AssertConverged && !sites[a.Site] {
		return fmt.Errorf("assertions[%d]: unknown site %q for %s", index, a.Site, a.Type)
	}

	switch a.Type {
	case AssertConverged:
	case AssertContent:
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for content", index)
		}
	case AssertPending:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for pending", index)
		}
	case AssertClock:
		if a.Clock == nil {
			return fmt.Errorf("assertions[%d]: clock is required for clock", index)
		}
	case AssertMessages:
		if a.Messages == nil {
			return fmt.Errorf("assertions[%d]: messages is required for messages", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for event_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
