package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/discovery"
	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/transport"
)

// browseTimeout bounds mDNS discovery when no server URL is configured.
const browseTimeout = 3 * time.Second

// ClientOptions holds flags for the client command.
type ClientOptions struct {
	*RootOptions
	Site   string
	Server string
}

// NewClientCommand creates the client command.
func NewClientCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "client <doc-id>",
		Short: "Edit a shared document from the terminal",
		Long: `Connect to a sync server and edit one document line by line.

Commands read from stdin:
  i <pos> <text>   insert text at a visible position
  d <pos> <len>    delete len characters starting at pos
  m <text>         append a chat message
  p                print the document
  q                quit

Edits made while the connection is down are queued and sent on
reconnect. Remote changes are printed as they arrive.

Examples:
  tandem client notes --server ws://localhost:8080/ws
  tandem client notes --config tandem.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("site") {
				cfg.Site = opts.Site
			}
			if cmd.Flags().Changed("server") {
				cfg.ServerURL = opts.Server
			}

			setupLogging(opts.RootOptions, cmd.ErrOrStderr())
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runClient(ctx, cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Site, "site", "", "site ID (default: generated)")
	cmd.Flags().StringVar(&opts.Server, "server", "", "server WebSocket URL, e.g. ws://host:8080/ws")

	return cmd
}

func runClient(ctx context.Context, cfg config.Config, docID string, in io.Reader, out io.Writer) error {
	url, err := serverURL(ctx, cfg)
	if err != nil {
		return err
	}

	site := siteID(cfg.Site)
	coord := engine.NewCoordinator(site,
		engine.WithMailboxCapacity(cfg.Document.MailboxCapacity),
		engine.WithDocumentOptions(crdt.WithPendingCapacity(cfg.Document.PendingCapacity)),
	)
	defer coord.Close()

	if err := coord.RegisterDocument(ctx, docID); err != nil {
		return WrapExitError(ExitCommandError, "failed to open document", err)
	}
	go func() { _ = coord.Run(ctx) }()
	go printRemote(ctx, coord, docID, out)

	if _, err := coord.ConnectPeer(ctx, transport.WebSocketDialer{URL: url}, cfg.Session("server")); err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	fmt.Fprintf(out, "site %s editing %s via %s\n", site, docID, url)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		command, err := parseClientCommand(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		switch command.action {
		case actionNone:
		case actionQuit:
			return nil
		case actionPrint:
			content, err := coord.Content(ctx, docID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, content)
		case actionEdit:
			if _, err := coord.Edit(ctx, docID, command.intent); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// serverURL returns the configured URL, or the first server found with
// mDNS when discovery is enabled.
func serverURL(ctx context.Context, cfg config.Config) (string, error) {
	if cfg.ServerURL != "" {
		return cfg.ServerURL, nil
	}
	if !cfg.Discovery {
		return "", NewExitError(ExitCommandError, "no server: set --server, server_url, or enable discovery")
	}

	bctx, cancel := context.WithTimeout(ctx, browseTimeout)
	defer cancel()
	peers, err := discovery.Browse(bctx)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "discovery failed", err)
	}
	if len(peers) == 0 {
		return "", NewExitError(ExitCommandError, "no tandem server found on the local network")
	}
	slog.Info("discovered server", "site", peers[0].Site, "url", peers[0].URL(), "found", len(peers))
	return peers[0].URL(), nil
}

// printRemote prints the document after every remote change, and warns
// when the connection gives up.
func printRemote(ctx context.Context, coord *engine.Coordinator, docID string, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-coord.Events():
			switch {
			case ev.Kind == engine.EventDocumentUpdated && !ev.Local && ev.DocID == docID:
				content, err := coord.Content(ctx, docID)
				if err != nil {
					return
				}
				fmt.Fprintf(out, "[%s] %s\n", ev.Op.Origin, content)
			case ev.Kind == engine.EventReconnectExhausted:
				fmt.Fprintf(out, "connection lost after %d attempts; edits stay local\n", ev.Attempts)
			case ev.Kind == engine.EventSessionState:
				slog.Debug("session state", "phase", ev.Phase, "attempts", ev.Attempts)
			}
		}
	}
}

type clientAction int

const (
	actionNone clientAction = iota
	actionEdit
	actionPrint
	actionQuit
)

type clientCommand struct {
	action clientAction
	intent ir.Intent
}

// parseClientCommand parses one line of client input.
func parseClientCommand(line string) (clientCommand, error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return clientCommand{action: actionNone}, nil
	}

	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "q", "quit":
		return clientCommand{action: actionQuit}, nil
	case "p", "print":
		return clientCommand{action: actionPrint}, nil
	case "m", "msg":
		return clientCommand{action: actionEdit, intent: ir.AddMessage(rest)}, nil
	case "i", "insert":
		posText, text, ok := strings.Cut(rest, " ")
		if !ok || text == "" {
			return clientCommand{}, fmt.Errorf("usage: i <pos> <text>")
		}
		pos, err := strconv.Atoi(posText)
		if err != nil {
			return clientCommand{}, fmt.Errorf("bad position %q", posText)
		}
		return clientCommand{action: actionEdit, intent: ir.Insert(pos, text)}, nil
	case "d", "delete":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return clientCommand{}, fmt.Errorf("usage: d <pos> <len>")
		}
		pos, err := strconv.Atoi(fields[0])
		if err != nil {
			return clientCommand{}, fmt.Errorf("bad position %q", fields[0])
		}
		length, err := strconv.Atoi(fields[1])
		if err != nil {
			return clientCommand{}, fmt.Errorf("bad length %q", fields[1])
		}
		return clientCommand{action: actionEdit, intent: ir.Delete(pos, length)}, nil
	default:
		return clientCommand{}, fmt.Errorf("unknown command %q", verb)
	}
}
