package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/transport"
	"github.com/roach88/tandem/internal/vclock"
)

// DefaultSnapshotInterval is the cadence of periodic snapshots.
const DefaultSnapshotInterval = 30 * time.Second

// DefaultEventBuffer bounds the merged event stream.
const DefaultEventBuffer = 1024

// Authorizer is the sharing service consulted before local edits.
type Authorizer interface {
	CanWrite(site, docID string) bool
}

// Persister stores document snapshots.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap crdt.Snapshot) error
	// LoadSnapshot returns found == false when docID has no snapshot.
	LoadSnapshot(ctx context.Context, docID string) (snap crdt.Snapshot, found bool, err error)
}

// Bus fans envelopes out to other coordinator instances.
type Bus interface {
	Publish(ctx context.Context, env ir.Envelope) error
	Subscribe(ctx context.Context) (<-chan ir.Envelope, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAuthorizer gates local edits. Without one every edit is allowed.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Coordinator) { c.auth = a }
}

// WithPersister enables snapshot bootstrap and periodic snapshots.
func WithPersister(p Persister) Option {
	return func(c *Coordinator) { c.persister = p }
}

// WithBus connects the coordinator to other instances.
func WithBus(b Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithRelay turns on relay mode: applied remote operations are forwarded
// to the other sessions and unknown documents are registered on demand.
func WithRelay(relay bool) Option {
	return func(c *Coordinator) { c.relay = relay }
}

// WithIDGenerator overrides the envelope ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Coordinator) { c.ids = g }
}

// WithSnapshotInterval sets the periodic snapshot cadence. Zero disables
// periodic snapshots; the final snapshot on shutdown still happens.
func WithSnapshotInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.snapshotInterval = d }
}

// WithDocumentOptions passes options to every document the coordinator creates.
func WithDocumentOptions(opts ...crdt.Option) Option {
	return func(c *Coordinator) { c.docOpts = append(c.docOpts, opts...) }
}

// WithMailboxCapacity bounds each document actor's mailbox.
func WithMailboxCapacity(n int) Option {
	return func(c *Coordinator) { c.mailboxCap = n }
}

// WithEventBuffer bounds the merged event stream.
func WithEventBuffer(n int) Option {
	return func(c *Coordinator) { c.eventBuffer = n }
}

// Coordinator orchestrates the documents and sessions of one site.
//
// Thread-safety: all exported methods are safe for concurrent use. The
// registry mutex only guards the document and session maps; documents are
// mutated exclusively by their actors.
type Coordinator struct {
	site             string
	auth             Authorizer
	persister        Persister
	bus              Bus
	relay            bool
	ids              IDGenerator
	docOpts          []crdt.Option
	mailboxCap       int
	snapshotInterval time.Duration
	eventBuffer      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	docs     map[string]*actor
	sessions map[*transport.Session]struct{}

	events    chan Event
	seq       atomic.Int64
	closeOnce sync.Once
}

// origin tells handlers where an envelope came from.
type origin struct {
	session *transport.Session
	bus     bool
}

// NewCoordinator creates a coordinator for site. Documents and sessions can
// be added right away; Run adds periodic snapshots and bus consumption.
func NewCoordinator(site string, opts ...Option) *Coordinator {
	c := &Coordinator{
		site:             site,
		ids:              UUIDv7Generator{},
		mailboxCap:       DefaultMailboxCapacity,
		snapshotInterval: DefaultSnapshotInterval,
		eventBuffer:      DefaultEventBuffer,
		docs:             make(map[string]*actor),
		sessions:         make(map[*transport.Session]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.events = make(chan Event, c.eventBuffer)
	return c
}

// Site returns the local site ID.
func (c *Coordinator) Site() string { return c.site }

// Events returns the merged document and session notification stream.
func (c *Coordinator) Events() <-chan Event { return c.events }

// RegisterDocument opens docID, restoring it from the persister when a
// snapshot exists. Registering an open document is a no-op. Connected
// sessions are asked for the new document's missing operations.
func (c *Coordinator) RegisterDocument(ctx context.Context, docID string) error {
	if docID == "" {
		return errors.New("register document: empty document id")
	}
	_, err := c.register(ctx, docID)
	return err
}

func (c *Coordinator) register(ctx context.Context, docID string) (*actor, error) {
	if a, ok := c.actor(docID); ok {
		return a, nil
	}

	doc, err := c.loadDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	if existing, ok := c.docs[docID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	a := newActor(doc, c.mailboxCap)
	c.docs[docID] = a
	c.wg.Add(1)
	sessions := c.sessionsLocked(nil)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		a.run(c.ctx)
	}()

	slog.Info("document registered",
		"doc", docID,
		"version", doc.Version(),
		"clock", doc.Clock().String(),
	)

	for _, s := range sessions {
		if s.Phase() == transport.Connected {
			if err := c.requestSync(ctx, s, docID, a); err != nil {
				slog.Warn("sync request failed", "doc", docID, "session", s.ID(), "error", err)
			}
		}
	}
	return a, nil
}

func (c *Coordinator) loadDocument(ctx context.Context, docID string) (*crdt.Document, error) {
	if c.persister == nil {
		return crdt.New(docID, c.site, c.docOpts...), nil
	}
	snap, found, err := c.persister.LoadSnapshot(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", docID, err)
	}
	if !found {
		return crdt.New(docID, c.site, c.docOpts...), nil
	}
	doc, err := crdt.Restore(snap, c.site, c.docOpts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", docID, err)
	}
	return doc, nil
}

func (c *Coordinator) actor(docID string) (*actor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.docs[docID]
	return a, ok
}

// lookup returns the actor for docID, registering it in relay mode.
func (c *Coordinator) lookup(ctx context.Context, docID string) (*actor, error) {
	if a, ok := c.actor(docID); ok {
		return a, nil
	}
	if c.relay {
		return c.register(ctx, docID)
	}
	return nil, ir.NewUnknownDocumentError(docID)
}

// Documents returns the registered document IDs, sorted.
func (c *Coordinator) Documents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AttachSession starts consuming s. Dialing sessions may be connected
// before or after attaching.
func (c *Coordinator) AttachSession(s *transport.Session) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrStopped
	}
	c.sessions[s] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	slog.Debug("session attached", "session", s.ID())
	go func() {
		defer c.wg.Done()
		c.pump(s)
	}()
	return nil
}

// Listener yields connections opened by peers.
type Listener interface {
	Accept(ctx context.Context) (transport.Conn, error)
}

// Serve accepts connections from l until ctx ends and attaches each one as
// a passive session. Session IDs are cfg.ID (default "peer") plus a counter.
func (c *Coordinator) Serve(ctx context.Context, l Listener, cfg transport.Config) error {
	prefix := cfg.ID
	if prefix == "" {
		prefix = "peer"
	}
	if cfg.Site == "" {
		cfg.Site = c.site
	}
	for n := 1; ; n++ {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		scfg := cfg
		scfg.ID = fmt.Sprintf("%s-%d", prefix, n)
		s := transport.Accept(ctx, scfg, conn)
		if err := c.AttachSession(s); err != nil {
			s.Disconnect()
			_ = conn.Close()
			return err
		}
	}
}

// ConnectPeer creates a dialing session, attaches it and starts connecting.
func (c *Coordinator) ConnectPeer(ctx context.Context, dialer transport.Dialer, cfg transport.Config) (*transport.Session, error) {
	if cfg.Site == "" {
		cfg.Site = c.site
	}
	s := transport.NewSession(cfg, dialer)
	if err := c.AttachSession(s); err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.ID, err)
	}
	return s, nil
}

// SessionCount returns the number of attached sessions.
func (c *Coordinator) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Coordinator) sessionsLocked(except *transport.Session) []*transport.Session {
	out := make([]*transport.Session, 0, len(c.sessions))
	for s := range c.sessions {
		if s != except {
			out = append(out, s)
		}
	}
	return out
}

func (c *Coordinator) detach(s *transport.Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
	slog.Debug("session detached", "session", s.ID(), "phase", s.Phase().String())
}

// pump consumes one session in order until it stops.
func (c *Coordinator) pump(s *transport.Session) {
	defer c.detach(s)
	from := origin{session: s}
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-s.Events():
			c.onSessionEvent(s, ev)
		case env := <-s.Inbound():
			c.handle(c.ctx, from, env)
		case <-s.Done():
			for {
				select {
				case env := <-s.Inbound():
					c.handle(c.ctx, from, env)
				case ev := <-s.Events():
					c.onSessionEvent(s, ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) onSessionEvent(s *transport.Session, ev transport.Event) {
	c.publish(fromSession(ev))
	switch ev.Kind {
	case transport.EventStateChanged:
		if ev.Phase == transport.Connected {
			c.resync(s)
		}
	case transport.EventReconnectExhausted:
		slog.Error("session gave up reconnecting",
			"session", ev.SessionID,
			"attempts", ev.Attempts,
			"error", ev.Err)
	}
}

// resync asks the peer behind s for every document's missing operations.
func (c *Coordinator) resync(s *transport.Session) {
	c.mu.RLock()
	docs := make(map[string]*actor, len(c.docs))
	for id, a := range c.docs {
		docs[id] = a
	}
	c.mu.RUnlock()

	for id, a := range docs {
		if err := c.requestSync(c.ctx, s, id, a); err != nil {
			slog.Warn("sync request failed", "doc", id, "session", s.ID(), "error", err)
		}
	}
	slog.Debug("resync requested", "session", s.ID(), "documents", len(docs))
}

func (c *Coordinator) requestSync(ctx context.Context, s *transport.Session, docID string, a *actor) error {
	var clock vclock.Clock
	if _, err := a.do(ctx, func(d *crdt.Document) { clock = d.Clock() }); err != nil {
		return err
	}
	env, err := c.envelope(ir.TypeSyncRequest, docID, ir.SyncRequest{DocID: docID, Clock: clock})
	if err != nil {
		return err
	}
	return s.Send(env)
}

// handle routes one inbound envelope.
func (c *Coordinator) handle(ctx context.Context, from origin, env ir.Envelope) {
	switch env.Type {
	case ir.TypeOperation:
		op, err := env.Operation()
		if err != nil {
			slog.Warn("dropping invalid operation", "envelope", env.ID, "doc", env.DocID, "error", err)
			return
		}
		c.applyRemote(ctx, from, env.DocID, []ir.Operation{op})

	case ir.TypeSyncRequest:
		c.answerSync(ctx, from, env)

	case ir.TypeSyncResponse:
		var resp ir.SyncResponse
		if err := env.Decode(&resp); err != nil {
			slog.Warn("dropping invalid sync response", "envelope", env.ID, "error", err)
			return
		}
		c.applyRemote(ctx, from, env.DocID, resp.Operations)

	default:
		slog.Debug("ignoring envelope", "envelope", env.ID, "type", env.Type)
	}
}

func (c *Coordinator) applyRemote(ctx context.Context, from origin, docID string, ops []ir.Operation) {
	if len(ops) == 0 {
		return
	}
	a, err := c.lookup(ctx, docID)
	if err != nil {
		slog.Warn("dropping operations", "doc", docID, "count", len(ops), "error", err)
		return
	}

	var failures []error
	events, err := a.do(ctx, func(d *crdt.Document) {
		for _, op := range ops {
			if _, err := d.ApplyRemote(op); err != nil {
				failures = append(failures, err)
			}
		}
	})
	if err != nil {
		slog.Warn("apply remote operations failed", "doc", docID, "error", err)
		return
	}

	overflow := false
	for _, f := range failures {
		if ir.IsCausalityOverflow(f) {
			overflow = true
			slog.Warn("pending queue overflow", "doc", docID, "error", f)
			continue
		}
		slog.Warn("rejected remote operation", "doc", docID, "error", f)
	}

	c.publishDocument(events)
	if c.relay {
		c.forward(ctx, from, events)
	}
	// Dropped operations can only come back through a resync.
	if overflow && from.session != nil {
		if err := c.requestSync(ctx, from.session, docID, a); err != nil {
			slog.Warn("sync request failed", "doc", docID, "error", err)
		}
	}
}

// answerSync replies with exactly OperationsSince(request clock). When the
// requester is ahead of us somewhere, we ask for its operations in turn.
func (c *Coordinator) answerSync(ctx context.Context, from origin, env ir.Envelope) {
	var req ir.SyncRequest
	if err := env.Decode(&req); err != nil {
		slog.Warn("dropping invalid sync request", "envelope", env.ID, "error", err)
		return
	}
	if from.session == nil {
		return
	}
	a, err := c.lookup(ctx, env.DocID)
	if err != nil {
		slog.Warn("cannot answer sync request", "doc", env.DocID, "error", err)
		return
	}

	var ops []ir.Operation
	var clock vclock.Clock
	if _, err := a.do(ctx, func(d *crdt.Document) {
		ops = d.OperationsSince(req.Clock)
		clock = d.Clock()
	}); err != nil {
		slog.Warn("cannot answer sync request", "doc", env.DocID, "error", err)
		return
	}

	resp, err := c.envelope(ir.TypeSyncResponse, env.DocID, ir.SyncResponse{DocID: env.DocID, Operations: ops})
	if err != nil {
		slog.Error("encode sync response", "doc", env.DocID, "error", err)
		return
	}
	if err := from.session.Send(resp); err != nil {
		slog.Warn("send sync response", "doc", env.DocID, "session", from.session.ID(), "error", err)
		return
	}
	slog.Debug("answered sync request",
		"doc", env.DocID,
		"session", from.session.ID(),
		"requested", req.Clock.String(),
		"operations", len(ops))

	if !clock.Descends(req.Clock) {
		if err := c.requestSync(ctx, from.session, env.DocID, a); err != nil {
			slog.Warn("sync request failed", "doc", env.DocID, "error", err)
		}
	}
}

// forward relays newly applied remote operations to every session but the
// one they came from, and to the bus unless they came from it.
func (c *Coordinator) forward(ctx context.Context, from origin, events []crdt.Event) {
	for _, ev := range events {
		if ev.Kind != crdt.EventOperationApplied || ev.Local {
			continue
		}
		env, err := c.envelope(ir.TypeOperation, ev.DocID, ev.Op)
		if err != nil {
			slog.Error("encode relayed operation", "op", ev.Op.ID, "error", err)
			continue
		}
		c.broadcast(env, from.session)
		if c.bus != nil && !from.bus {
			if err := c.bus.Publish(ctx, env); err != nil {
				slog.Warn("bus publish failed", "op", ev.Op.ID, "error", err)
			}
		}
	}
}

func (c *Coordinator) broadcast(env ir.Envelope, except *transport.Session) {
	c.mu.RLock()
	sessions := c.sessionsLocked(except)
	c.mu.RUnlock()
	for _, s := range sessions {
		if err := s.Send(env); err != nil && !errors.Is(err, transport.ErrClosed) {
			slog.Warn("send failed", "session", s.ID(), "envelope", env.ID, "error", err)
		}
	}
}

// Edit applies a local intent to docID and sends the resulting operation
// to every session. The authorizer is consulted first.
func (c *Coordinator) Edit(ctx context.Context, docID string, intent ir.Intent) (ir.Operation, error) {
	if c.auth != nil && !c.auth.CanWrite(c.site, docID) {
		return ir.Operation{}, ir.NewPermissionDeniedError(c.site, docID)
	}
	a, ok := c.actor(docID)
	if !ok {
		return ir.Operation{}, ir.NewUnknownDocumentError(docID)
	}

	var op ir.Operation
	var applyErr error
	events, err := a.do(ctx, func(d *crdt.Document) {
		op, applyErr = d.ApplyLocal(intent)
	})
	if err != nil {
		return ir.Operation{}, fmt.Errorf("edit %s: %w", docID, err)
	}
	if applyErr != nil {
		return ir.Operation{}, applyErr
	}
	c.publishDocument(events)

	env, err := c.envelope(ir.TypeOperation, docID, op)
	if err != nil {
		return op, fmt.Errorf("edit %s: %w", docID, err)
	}
	c.broadcast(env, nil)
	if c.bus != nil {
		if err := c.bus.Publish(ctx, env); err != nil {
			slog.Warn("bus publish failed", "op", op.ID, "error", err)
		}
	}
	slog.Debug("local edit", "doc", docID, "op", op.ID, "intent", intent.String())
	return op, nil
}

// DocumentInfo is a consistent view of one document.
type DocumentInfo struct {
	DocID    string       `json:"doc_id"`
	Site     string       `json:"site"`
	Content  string       `json:"content"`
	Clock    vclock.Clock `json:"clock"`
	Version  int          `json:"version"`
	Pending  int          `json:"pending"`
	Digest   string       `json:"digest"`
	Messages []ir.Message `json:"messages"`
}

// Info returns the state of docID, read inside its actor.
func (c *Coordinator) Info(ctx context.Context, docID string) (DocumentInfo, error) {
	var info DocumentInfo
	var digestErr error
	err := c.inspect(ctx, docID, func(d *crdt.Document) {
		info = DocumentInfo{
			DocID:    d.ID(),
			Site:     d.Site(),
			Content:  d.Content(),
			Clock:    d.Clock(),
			Version:  d.Version(),
			Pending:  d.PendingCount(),
			Messages: d.Messages(),
		}
		info.Digest, digestErr = d.Digest()
	})
	if err != nil {
		return DocumentInfo{}, err
	}
	return info, digestErr
}

// Content returns the materialized text of docID.
func (c *Coordinator) Content(ctx context.Context, docID string) (string, error) {
	var content string
	err := c.inspect(ctx, docID, func(d *crdt.Document) { content = d.Content() })
	return content, err
}

// PendingCount returns the number of causally blocked operations of docID.
func (c *Coordinator) PendingCount(ctx context.Context, docID string) (int, error) {
	var n int
	err := c.inspect(ctx, docID, func(d *crdt.Document) { n = d.PendingCount() })
	return n, err
}

// Snapshot captures docID.
func (c *Coordinator) Snapshot(ctx context.Context, docID string) (crdt.Snapshot, error) {
	var snap crdt.Snapshot
	err := c.inspect(ctx, docID, func(d *crdt.Document) { snap = d.Snapshot() })
	return snap, err
}

func (c *Coordinator) inspect(ctx context.Context, docID string, fn func(*crdt.Document)) error {
	a, ok := c.actor(docID)
	if !ok {
		return ir.NewUnknownDocumentError(docID)
	}
	events, err := a.do(ctx, fn)
	c.publishDocument(events)
	return err
}

// SnapshotAll saves a snapshot of every document through the persister.
func (c *Coordinator) SnapshotAll(ctx context.Context) error {
	if c.persister == nil {
		return nil
	}
	var errs []error
	for _, id := range c.Documents() {
		snap, err := c.Snapshot(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", id, err))
			continue
		}
		if err := c.persister.SaveSnapshot(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("save snapshot %s: %w", id, err))
			continue
		}
		slog.Debug("snapshot saved", "doc", id, "version", snap.Version)
	}
	return errors.Join(errs...)
}

// Run blocks until ctx is cancelled or Close is called. It consumes the bus
// and takes periodic snapshots; on cancellation it takes a final snapshot
// and closes the coordinator.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.Info("coordinator starting",
		"site", c.site,
		"relay", c.relay,
		"documents", len(c.Documents()),
		"snapshot_interval", c.snapshotInterval)
	defer c.Close()

	if c.bus != nil {
		msgs, err := c.bus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe bus: %w", err)
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consumeBus(ctx, msgs)
		}()
	}

	var tick <-chan time.Time
	if c.persister != nil && c.snapshotInterval > 0 {
		ticker := time.NewTicker(c.snapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("coordinator stopping: context cancelled")
			if c.persister != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := c.SnapshotAll(sctx); err != nil {
					slog.Error("final snapshot failed", "error", err)
				}
				cancel()
			}
			return ctx.Err()

		case <-c.ctx.Done():
			slog.Info("coordinator stopping: closed")
			return nil

		case <-tick:
			if err := c.SnapshotAll(ctx); err != nil {
				slog.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) consumeBus(ctx context.Context, msgs <-chan ir.Envelope) {
	from := origin{bus: true}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		case env, ok := <-msgs:
			if !ok {
				return
			}
			if env.SenderSite == c.site {
				continue
			}
			c.handle(c.ctx, from, env)
		}
	}
}

// Close disconnects every session and stops every document actor. It is
// idempotent and waits for all coordinator goroutines.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		sessions := c.sessionsLocked(nil)
		c.mu.Unlock()

		for _, s := range sessions {
			s.Disconnect()
		}
		c.cancel()
		c.wg.Wait()
		slog.Info("coordinator stopped", "site", c.site)
	})
}

func (c *Coordinator) envelope(typ ir.MessageType, docID string, payload any) (ir.Envelope, error) {
	return ir.NewEnvelope(c.ids.Generate(), typ, docID, c.site, payload)
}

func (c *Coordinator) publishDocument(events []crdt.Event) {
	for _, ev := range events {
		if ev.Kind == crdt.EventCausalityOverflow {
			slog.Warn("causality overflow", "doc", ev.DocID, "dropped", ev.Op.ID)
		}
		c.publish(fromDocument(ev))
	}
}

// publish stamps ev and offers it to the event stream without blocking.
func (c *Coordinator) publish(ev Event) {
	ev.Seq = c.seq.Add(1)
	select {
	case c.events <- ev:
	default:
		slog.Warn("event buffer full, dropping event",
			"kind", ev.Kind,
			"doc", ev.DocID,
			"session", ev.SessionID,
			"seq", ev.Seq)
	}
}
