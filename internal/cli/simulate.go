package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Golden string // directory of golden traces; empty disables comparison
	Update bool   // rewrite golden traces instead of comparing
	Filter string // scenario filter (glob pattern on the file name)
	Trace  bool   // print every trace event
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string                       `json:"name"`
	Pass   bool                         `json:"pass"`
	Errors []string                     `json:"errors,omitempty"`
	Trace  []harness.TraceEvent         `json:"trace,omitempty"`
	Sites  map[string]harness.SiteState `json:"sites,omitempty"`
}

// SimulateResult holds the overall simulation result.
type SimulateResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario-file-or-dir>...",
		Short: "Run deterministic multi-site scenarios",
		Long: `Run scenario files through the deterministic simulation harness.

Each scenario drives a set of in-memory replicas through local edits and
explicit network steps (deliver, drop, sync), then checks its assertions.
With --golden, the canonical trace of every scenario is compared against
<golden>/<name>.golden; --update rewrites those files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tandem simulate ./scenarios
  tandem simulate ./scenarios --filter "concurrent_*" --trace
  tandem simulate ./scenarios --golden ./scenarios/golden --update
  tandem simulate ./scenarios/offline.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the trace of every scenario")

	return cmd
}

func runSimulate(opts *SimulateOptions, paths []string, w io.Writer) error {
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	var files []string
	for _, path := range paths {
		found, err := findScenarioFiles(path, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	result := SimulateResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := simulateScenario(opts, file)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return err
		}
	} else {
		writeSimulateText(w, opts, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// file under it.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

func simulateScenario(opts *SimulateOptions, file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{err.Error()},
		}
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	sr := ScenarioResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Errors: result.Errors,
		Sites:  result.Sites,
	}
	if opts.Trace {
		sr.Trace = result.Trace
	}

	if opts.Golden != "" {
		if err := compareGolden(opts, scenario, result); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, err.Error())
		}
	}
	return sr
}

// compareGolden checks (or with --update, rewrites) the scenario's golden
// trace file.
func compareGolden(opts *SimulateOptions, scenario *harness.Scenario, result *harness.Result) error {
	snapshot := harness.NewTraceSnapshot(scenario, result)
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("canonical trace: %w", err)
	}

	path := filepath.Join(opts.Golden, scenario.Name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.Golden, 0o755); err != nil {
			return fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return fmt.Errorf("trace differs from %s", path)
	}
	return nil
}

func writeSimulateText(w io.Writer, opts *SimulateOptions, result SimulateResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, sr := range result.Scenarios {
		mark := "PASS"
		if !sr.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "%s %s\n", mark, sr.Name)
		for _, ev := range sr.Trace {
			fmt.Fprintf(w, "  %3d step %-3d %-7s %-8s", ev.Seq, ev.Step, ev.Type, ev.Site)
			if ev.From != "" {
				fmt.Fprintf(w, " from %s", ev.From)
			}
			if ev.OpID != "" {
				fmt.Fprintf(w, " %s", ev.OpID)
			}
			if ev.Intent != "" {
				fmt.Fprintf(w, " %s", ev.Intent)
			}
			if ev.Outcome != "" {
				fmt.Fprintf(w, " %s", ev.Outcome)
			}
			if ev.Error != "" {
				fmt.Fprintf(w, " %s", ev.Error)
			}
			fmt.Fprintf(w, " -> %q\n", ev.Content)
		}
		for _, msg := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(msg, "\n"), "\n", "\n  "))
		}
		if opts.Verbose {
			for _, site := range sortedKeys(sr.Sites) {
				state := sr.Sites[site]
				fmt.Fprintf(w, "  %s: %q clock=%s pending=%d\n", site, state.Content, state.Clock, state.Pending)
			}
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
