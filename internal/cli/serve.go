package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tandem/internal/access"
	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/discovery"
	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/relay"
	"github.com/roach88/tandem/internal/server"
	"github.com/roach88/tandem/internal/store"
)

// ServeOptions holds flags for the serve command. Set flags override the
// config file.
type ServeOptions struct {
	*RootOptions
	Site      string
	Listen    string
	Database  string
	Documents []string
	Relay     bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a sync server",
		Long: `Run a sync server: a coordinator that accepts WebSocket sessions on /ws
and serves the document API.

Snapshots are restored from the store at startup, written every
snapshot_interval and once more on shutdown. Relay is on by default: the
server forwards every operation it applies to its other sessions, and
to the Redis bus when redis_addr is set, so connected clients see each
other's edits live. With --relay=false clients only catch up on resync.

Examples:
  tandem serve --listen :8080 --db ./tandem.db --doc notes
  tandem serve --config tandem.cue
  tandem serve --db postgres://localhost/tandem --relay=false`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("site") {
				cfg.Site = opts.Site
			}
			if flags.Changed("listen") {
				cfg.Listen = opts.Listen
			}
			if flags.Changed("db") {
				cfg.Database = opts.Database
				cfg.PostgresURL = ""
			}
			if flags.Changed("doc") {
				cfg.Documents = opts.Documents
			}
			if flags.Changed("relay") {
				cfg.Relay = opts.Relay
			}

			setupLogging(opts.RootOptions, cmd.ErrOrStderr())
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.Site, "site", "", "site ID (default: generated)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "", "snapshot store: SQLite path, *.bolt path or postgres:// URL")
	cmd.Flags().StringArrayVar(&opts.Documents, "doc", nil, "document to open at startup (repeatable)")
	cmd.Flags().BoolVar(&opts.Relay, "relay", true, "forward operations between sessions")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	site := siteID(cfg.Site)

	slog.Info("opening snapshot store", "location", cfg.Store())
	backend, err := store.OpenBackend(ctx, cfg.Store())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	coordOpts := []engine.Option{
		engine.WithPersister(backend),
		engine.WithRelay(cfg.Relay),
		engine.WithSnapshotInterval(cfg.SnapshotInterval),
		engine.WithMailboxCapacity(cfg.Document.MailboxCapacity),
		engine.WithDocumentOptions(crdt.WithPendingCapacity(cfg.Document.PendingCapacity)),
	}

	if cfg.PolicyFile != "" {
		policy, err := access.NewReloadable(cfg.PolicyFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		onHangup(ctx, func() {
			if err := policy.Reload(); err != nil {
				slog.Error("policy reload failed, keeping previous policy", "file", cfg.PolicyFile, "error", err)
				return
			}
			slog.Info("policy reloaded", "file", cfg.PolicyFile)
		})
		coordOpts = append(coordOpts, engine.WithAuthorizer(policy))
	}

	if cfg.RedisAddr != "" {
		bus, err := relay.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect relay bus", err)
		}
		defer bus.Close()
		coordOpts = append(coordOpts, engine.WithBus(bus))
	}

	coord := engine.NewCoordinator(site, coordOpts...)
	defer coord.Close()

	for _, docID := range cfg.Documents {
		if err := coord.RegisterDocument(ctx, docID); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open document %s", docID), err)
		}
	}

	srv := server.New(ctx, coord, cfg.Session(""))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Listen) })
	g.Go(func() error {
		logEvents(gctx, coord)
		return nil
	})

	if cfg.Discovery {
		port, err := listenPort(cfg.Listen)
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot advertise", err)
		}
		if err := discovery.Advertise(gctx, site, port); err != nil {
			slog.Warn("mDNS advertisement failed", "error", err)
		}
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// logEvents logs coordinator notifications until ctx ends.
func logEvents(ctx context.Context, coord *engine.Coordinator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-coord.Events():
			switch ev.Kind {
			case engine.EventReconnectExhausted, engine.EventCausalityOverflow, engine.EventOutboundDropped:
				slog.Warn("sync event", "kind", ev.Kind, "doc_id", ev.DocID, "session", ev.SessionID, "error", ev.Err)
			case engine.EventSessionState:
				slog.Info("session state", "session", ev.SessionID, "phase", ev.Phase, "attempts", ev.Attempts)
			default:
				slog.Debug("sync event", "seq", ev.Seq, "kind", ev.Kind, "doc_id", ev.DocID, "op_id", ev.Op.ID)
			}
		}
	}
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("listen address %q has no fixed port", addr)
	}
	return n, nil
}
