package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tandem/internal/vclock"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s", ev.Seq, ev.Step, ev.Type, ev.Site)
			if ev.OpID != "" {
				fmt.Fprintf(&buf, " %s", ev.OpID)
			}
			if ev.Outcome != "" {
				fmt.Fprintf(&buf, " %s", ev.Outcome)
			}
			fmt.Fprintf(&buf, " -> %q\n", ev.Content)
		}
	}
	return buf.String()
}

func assertContent(result *Result, a Assertion) error {
	got := result.Sites[a.Site].Content
	if got == *a.Equals {
		return nil
	}
	return &AssertionError{
		Type:     AssertContent,
		Expected: fmt.Sprintf("%s content %q", a.Site, *a.Equals),
		Actual:   fmt.Sprintf("%q", got),
		Trace:    result.Trace,
	}
}

// assertConverged checks that every site reports the same digest.
func assertConverged(result *Result) error {
	digests := make(map[string][]string)
	for site, state := range result.Sites {
		digests[state.Digest] = append(digests[state.Digest], site)
	}
	if len(digests) <= 1 {
		return nil
	}

	var groups []string
	for _, sites := range digests {
		slices.Sort(sites)
		groups = append(groups, fmt.Sprintf("%v", sites))
	}
	slices.Sort(groups)

	var contents []string
	for _, site := range sortedSites(result) {
		contents = append(contents, fmt.Sprintf("%s=%q", site, result.Sites[site].Content))
	}
	return &AssertionError{
		Type:     AssertConverged,
		Expected: "one digest across all sites",
		Actual:   fmt.Sprintf("%d digests %s; %s", len(digests), strings.Join(groups, " "), strings.Join(contents, " ")),
		Trace:    result.Trace,
	}
}

func assertPending(result *Result, a Assertion) error {
	got := result.Sites[a.Site].Pending
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPending,
		Expected: fmt.Sprintf("%s holds %d pending operations", a.Site, *a.Count),
		Actual:   fmt.Sprintf("%d pending", got),
	}
}

func assertClock(result *Result, a Assertion) error {
	want := vclock.Clock(a.Clock)
	got := result.Sites[a.Site].Clock
	if got.Equal(want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertClock,
		Expected: fmt.Sprintf("%s clock %s", a.Site, want),
		Actual:   got.String(),
	}
}

func assertMessages(result *Result, a Assertion) error {
	got := result.Sites[a.Site].Messages
	if slices.Equal(got, a.Messages) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMessages,
		Expected: fmt.Sprintf("%s transcript %q", a.Site, a.Messages),
		Actual:   fmt.Sprintf("%q", got),
	}
}

func assertEventCount(result *Result, a Assertion) error {
	got := result.Sites[a.Site].Events[a.Kind]
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%s raised %d %s events", a.Site, *a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d", got),
	}
}

func sortedSites(result *Result) []string {
	sites := make([]string, 0, len(result.Sites))
	for site := range result.Sites {
		sites = append(sites, site)
	}
	slices.Sort(sites)
	return sites
}

// EvaluateAssertions runs every assertion against the result and returns
// the error messages of those that failed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertContent:
			err = assertContent(result, a)
		case AssertConverged:
			err = assertConverged(result)
		case AssertPending:
			err = assertPending(result, a)
		case AssertClock:
			err = assertClock(result, a)
		case AssertMessages:
			err = assertMessages(result, a)
		case AssertEventCount:
			err = assertEventCount(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}
