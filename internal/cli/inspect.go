package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
}

// SnapshotDetail describes one stored snapshot.
type SnapshotDetail struct {
	DocID      string   `json:"doc_id"`
	Version    int      `json:"version"`
	Clock      string   `json:"clock"`
	Content    string   `json:"content"`
	Digest     string   `json:"digest"`
	Operations int      `json:"operations"`
	Pending    int      `json:"pending"`
	Messages   []string `json:"messages"`
	TakenAt    string   `json:"taken_at"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [doc-id]",
		Short: "Show stored document snapshots",
		Long: `List every snapshot in the store, or show one document in detail.

With --verbose the full decoded snapshot is dumped.

Examples:
  tandem inspect --db ./tandem.db
  tandem inspect notes --db ./tandem.db --verbose
  tandem inspect notes --db postgres://localhost/tandem --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "snapshot store (default: from config)")

	return cmd
}

// openStore opens the store named by --db, falling back to the config.
func openStore(ctx context.Context, opts *RootOptions, dsn string) (store.Backend, error) {
	if dsn == "" {
		cfg, err := loadConfig(opts)
		if err != nil {
			return nil, err
		}
		dsn = cfg.Store()
	}
	backend, err := store.OpenBackend(ctx, dsn)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return backend, nil
}

// loadStoredSnapshot loads docID or fails with an UnknownDocument error.
func loadStoredSnapshot(ctx context.Context, backend store.Backend, docID string) (crdt.Snapshot, error) {
	snap, ok, err := backend.LoadSnapshot(ctx, docID)
	if err != nil {
		return crdt.Snapshot{}, WrapExitError(ExitCommandError, "failed to load snapshot", err)
	}
	if !ok {
		return crdt.Snapshot{}, WrapExitError(ExitCommandError, "no snapshot", ir.NewUnknownDocumentError(docID))
	}
	return snap, nil
}

func runInspect(ctx context.Context, opts *InspectOptions, args []string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := openStore(ctx, opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer backend.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: w, Verbose: opts.Verbose}

	if len(args) == 0 {
		summaries, err := backend.ListSnapshots(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list snapshots", err)
		}
		if opts.Format == "json" {
			if summaries == nil {
				summaries = []store.Summary{}
			}
			return formatter.Success(summaries)
		}
		writeSummaryTable(w, summaries)
		return nil
	}

	snap, err := loadStoredSnapshot(ctx, backend, args[0])
	if err != nil {
		if opts.Format == "json" {
			_ = formatter.Fail(err)
		}
		return err
	}

	detail, err := snapshotDetail(snap)
	if err != nil {
		return WrapExitError(ExitFailure, "corrupt snapshot", err)
	}
	if opts.Format == "json" {
		return formatter.Success(detail)
	}

	fmt.Fprintf(w, "document:   %s\n", detail.DocID)
	fmt.Fprintf(w, "version:    %d\n", detail.Version)
	fmt.Fprintf(w, "clock:      %s\n", detail.Clock)
	fmt.Fprintf(w, "operations: %d\n", detail.Operations)
	fmt.Fprintf(w, "pending:    %d\n", detail.Pending)
	fmt.Fprintf(w, "digest:     %s\n", detail.Digest)
	fmt.Fprintf(w, "taken at:   %s\n", detail.TakenAt)
	fmt.Fprintf(w, "content:    %q\n", detail.Content)
	for _, m := range detail.Messages {
		fmt.Fprintf(w, "message:    %q\n", m)
	}
	if opts.Verbose {
		fmt.Fprintln(w)
		fmt.Fprintln(w, litter.Options{HidePrivateFields: true, StripPackageNames: true}.Sdump(snap))
	}
	return nil
}

// snapshotDetail restores snap to compute its digest and transcript.
func snapshotDetail(snap crdt.Snapshot) (SnapshotDetail, error) {
	doc, err := crdt.Restore(snap, "inspect")
	if err != nil {
		return SnapshotDetail{}, err
	}
	digest, err := doc.Digest()
	if err != nil {
		return SnapshotDetail{}, err
	}
	messages := []string{}
	for _, m := range doc.Messages() {
		messages = append(messages, m.Payload)
	}
	return SnapshotDetail{
		DocID:      snap.DocID,
		Version:    snap.Version,
		Clock:      snap.Clock.String(),
		Content:    snap.Content,
		Digest:     digest,
		Operations: len(snap.Operations),
		Pending:    len(snap.Pending),
		Messages:   messages,
		TakenAt:    time.UnixMilli(snap.TakenAt).UTC().Format(time.RFC3339),
	}, nil
}

func writeSummaryTable(w io.Writer, summaries []store.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No snapshots.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tVERSION\tCLOCK\tTAKEN AT\tCONTENT")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%q\n",
			s.DocID, s.Version, s.Clock,
			time.UnixMilli(s.TakenAt).UTC().Format(time.RFC3339),
			truncate(s.Content, 40))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
