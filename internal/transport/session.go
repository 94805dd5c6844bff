package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tandem/internal/ir"
)

var (
	// ErrClosed is returned by operations on a session after Disconnect.
	ErrClosed = errors.New("session closed")

	// ErrPassive is returned by Connect on an accepted session, which
	// cannot redial its peer.
	ErrPassive = errors.New("accepted session cannot dial")

	// ErrHeartbeatTimeout reports a connection dropped for unanswered pings.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// Config holds session tuning. Zero fields take their DefaultConfig value.
type Config struct {
	// ID names the session in logs and events.
	ID string

	// Site is stamped as sender on heartbeat envelopes.
	Site string

	HeartbeatInterval    time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	OutboundCapacity     int
	MaxMissedHeartbeats  int
	InboundCapacity      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectAttempts: 5,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		OutboundCapacity:     DefaultOutboundCapacity,
		MaxMissedHeartbeats:  3,
		InboundCapacity:      64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = d.OutboundCapacity
	}
	if c.MaxMissedHeartbeats <= 0 {
		c.MaxMissedHeartbeats = d.MaxMissedHeartbeats
	}
	if c.InboundCapacity <= 0 {
		c.InboundCapacity = d.InboundCapacity
	}
	return c
}

// Session is one logical connection to a peer.
//
// Thread-safety model:
//   - Send, Disconnect and the accessors: safe from any goroutine
//   - Connect: safe from any goroutine; starts the supervisor once
//   - all phase transitions happen in the supervisor goroutine, except
//     the move to Closed made by Disconnect
type Session struct {
	cfg    Config
	dialer Dialer
	log    *slog.Logger

	queue    *outboundQueue
	control  chan ir.Envelope // heartbeat frames, written ahead of queued data
	inbound  chan ir.Envelope
	events   chan Event
	retry    chan struct{}
	finished chan struct{}

	mu        sync.Mutex
	phase     Phase
	attempts  int
	started   bool
	passive   bool
	exhausted bool
	cancel    context.CancelFunc
	stop      <-chan struct{} // lifetime context's Done, set before the supervisor starts
	missed    int
	rtt       time.Duration
	lastPong  time.Time
	hbSeq     uint64
}

// NewSession creates a dialing session in phase Disconnected. Nothing
// happens until Connect.
func NewSession(cfg Config, dialer Dialer) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		log:      slog.Default().With("session", cfg.ID),
		queue:    newOutboundQueue(cfg.OutboundCapacity),
		control:  make(chan ir.Envelope, 8),
		inbound:  make(chan ir.Envelope, cfg.InboundCapacity),
		events:   make(chan Event, 64),
		retry:    make(chan struct{}, 1),
		finished: make(chan struct{}),
		phase:    Disconnected,
	}
}

// Accept wraps a connection opened by a peer. The session starts Connected,
// never redials, and ends Disconnected when the connection is lost.
func Accept(ctx context.Context, cfg Config, conn Conn) *Session {
	s := NewSession(cfg, nil)
	sctx, cancel := context.WithCancel(ctx)
	s.passive = true
	s.started = true
	s.cancel = cancel
	s.stop = sctx.Done()
	s.phase = Connected
	s.events <- Event{Kind: EventStateChanged, SessionID: s.cfg.ID, Phase: Connected, At: time.Now()}

	go func() {
		defer s.finish()
		err := s.serve(sctx, conn)
		if sctx.Err() != nil {
			return
		}
		s.log.Info("peer connection lost", "error", err)
		s.setPhase(Disconnected, err)
	}()
	return s
}

// ID returns the configured session ID.
func (s *Session) ID() string { return s.cfg.ID }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Attempts returns the consecutive failed dials since the last success.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// RTT returns the round-trip time measured by the last answered ping.
func (s *Session) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}

// LastPong returns when the last pong arrived, or the zero time.
func (s *Session) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

// Pending returns the number of envelopes waiting in the outbound queue.
func (s *Session) Pending() int {
	return s.queue.Len()
}

// Inbound delivers envelopes received from the peer, in arrival order.
// Heartbeats are handled internally and never appear here.
func (s *Session) Inbound() <-chan ir.Envelope { return s.inbound }

// Events delivers phase changes, exhaustion and drop notifications.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session has stopped for good.
func (s *Session) Done() <-chan struct{} { return s.finished }

// Connect starts dialing. The session keeps redialing with exponential
// backoff until it connects, exhausts its attempts, or is closed. Calling
// Connect after exhaustion starts a fresh round of attempts; otherwise it
// is a no-op on a running session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.phase == Closed:
		return ErrClosed
	case s.passive:
		return ErrPassive
	case !s.started:
		sctx, cancel := context.WithCancel(ctx)
		s.started = true
		s.cancel = cancel
		s.stop = sctx.Done()
		go s.supervise(sctx)
	case s.exhausted:
		s.exhausted = false
		select {
		case s.retry <- struct{}{}:
		default:
		}
	}
	return nil
}

// Disconnect closes the session for good. It is idempotent. Queued
// envelopes are discarded; applied operations are unaffected and reach the
// peer through resync on a later session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.phase == Closed {
		s.mu.Unlock()
		return
	}
	s.phase = Closed
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	s.log.Debug("session closed")
	s.tryEmit(Event{Kind: EventStateChanged, Phase: Closed})
	if cancel != nil {
		cancel()
	}
	if !started {
		close(s.finished)
	}
}

// Send queues env for delivery and never blocks. While disconnected the
// envelope waits; at capacity the oldest queued envelope is dropped.
func (s *Session) Send(env ir.Envelope) error {
	if s.Phase() == Closed {
		return ErrClosed
	}
	if dropped, evicted := s.queue.Push(env); evicted {
		s.log.Warn("outbound queue full, dropped oldest envelope",
			"dropped", dropped.ID,
			"type", dropped.Type,
			"doc", dropped.DocID,
			"capacity", s.cfg.OutboundCapacity)
		s.tryEmit(Event{Kind: EventOutboundDropped, Dropped: dropped})
	}
	return nil
}

func (s *Session) supervise(ctx context.Context) {
	defer s.finish()

	bo := s.newBackOff()
	for {
		s.setPhase(Connecting, nil)
		conn, err := s.dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			attempts := s.failAttempt()
			s.log.Warn("dial failed",
				"attempt", attempts,
				"max", s.cfg.MaxReconnectAttempts,
				"error", err)

			if attempts >= s.cfg.MaxReconnectAttempts {
				s.setPhase(Disconnected, err)
				s.mu.Lock()
				s.exhausted = true
				s.mu.Unlock()
				s.log.Error("reconnect attempts exhausted", "attempts", attempts)
				s.emit(Event{
					Kind:     EventReconnectExhausted,
					Phase:    Disconnected,
					Attempts: attempts,
					Err:      ir.NewReconnectExhaustedError(s.cfg.ID, attempts),
				})
				select {
				case <-s.retry:
				case <-ctx.Done():
					return
				}
				s.resetAttempts()
				bo.Reset()
				continue
			}

			s.setPhase(Reconnecting, err)
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		s.resetAttempts()
		bo.Reset()
		err = s.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		s.log.Info("connection lost", "error", err)
		s.setPhase(Disconnected, err)
		s.setPhase(Reconnecting, err)
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// newBackOff builds the reconnect schedule: after the n-th failed open it
// waits BackoffBase*2^(n-1), capped at BackoffMax, without jitter and
// without an elapsed-time limit.
func (s *Session) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.BackoffBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = s.cfg.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (s *Session) dial(ctx context.Context) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.dialer.Dial(dctx)
}

// serve runs the read, write and heartbeat loops on conn until one fails
// or ctx ends, and returns the first error.
func (s *Session) serve(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	s.missed = 0
	s.mu.Unlock()
	s.setPhase(Connected, nil)
	s.log.Info("connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, conn) })
	g.Go(func() error { return s.writeLoop(gctx, conn) })
	g.Go(func() error { return s.heartbeatLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	return g.Wait()
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := ir.DecodeEnvelope(data)
		if err != nil {
			s.log.Warn("dropping malformed envelope", "error", err)
			continue
		}
		if env.Type == ir.TypeHeartbeat {
			s.handleHeartbeat(ctx, env)
			continue
		}
		select {
		case s.inbound <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, conn Conn) error {
	for {
		select {
		case env := <-s.control:
			if err := s.write(conn, env); err != nil {
				return err
			}
			continue
		default:
		}

		if seq, env, ok := s.queue.Peek(); ok {
			if err := s.write(conn, env); err != nil {
				return err
			}
			s.queue.Ack(seq)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-s.control:
			if err := s.write(conn, env); err != nil {
				return err
			}
		case <-s.queue.Wait():
		}
	}
}

func (s *Session) write(conn Conn, env ir.Envelope) error {
	data, err := ir.Encode(env)
	if err != nil {
		s.log.Error("dropping unencodable envelope", "id", env.ID, "error", err)
		return nil
	}
	if err := conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		s.mu.Lock()
		missed := s.missed
		s.missed++
		s.mu.Unlock()
		if missed >= s.cfg.MaxMissedHeartbeats {
			return fmt.Errorf("%w: %d pings unanswered", ErrHeartbeatTimeout, missed)
		}

		ping := s.heartbeat(ir.Heartbeat{SentAt: time.Now().UnixMilli()})
		select {
		case s.control <- ping:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) handleHeartbeat(ctx context.Context, env ir.Envelope) {
	var hb ir.Heartbeat
	if err := env.Decode(&hb); err != nil {
		s.log.Warn("dropping malformed heartbeat", "error", err)
		return
	}
	if hb.Pong {
		rtt := time.Since(time.UnixMilli(hb.SentAt))
		s.mu.Lock()
		s.missed = 0
		s.rtt = rtt
		s.lastPong = time.Now()
		s.mu.Unlock()
		s.log.Debug("heartbeat", "rtt", rtt)
		return
	}
	pong := s.heartbeat(ir.Heartbeat{SentAt: hb.SentAt, Pong: true})
	select {
	case s.control <- pong:
	case <-ctx.Done():
	}
}

func (s *Session) heartbeat(hb ir.Heartbeat) ir.Envelope {
	s.mu.Lock()
	s.hbSeq++
	id := fmt.Sprintf("%s-hb-%d", s.cfg.ID, s.hbSeq)
	s.mu.Unlock()
	env, _ := ir.NewEnvelope(id, ir.TypeHeartbeat, "", s.cfg.Site, hb)
	return env
}

func (s *Session) setPhase(p Phase, cause error) {
	s.mu.Lock()
	if s.phase == Closed || s.phase == p {
		s.mu.Unlock()
		return
	}
	s.phase = p
	attempts := s.attempts
	s.mu.Unlock()

	s.log.Debug("phase changed", "phase", p.String(), "attempts", attempts)
	s.emit(Event{Kind: EventStateChanged, Phase: p, Attempts: attempts, Err: cause})
}

func (s *Session) failAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

func (s *Session) resetAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
}

// emit delivers ev, blocking while the consumer catches up. Only the
// supervisor goroutine emits this way.
func (s *Session) emit(ev Event) {
	ev.SessionID = s.cfg.ID
	ev.At = time.Now()
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// tryEmit delivers ev if there is room and logs otherwise.
func (s *Session) tryEmit(ev Event) {
	ev.SessionID = s.cfg.ID
	ev.At = time.Now()
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event buffer full, dropping session event", "kind", ev.Kind)
	}
}

// finish marks the supervisor as gone. An accepted session that lost its
// peer stays Disconnected; any other exit is a close.
func (s *Session) finish() {
	s.mu.Lock()
	if s.phase != Closed && !(s.passive && s.phase == Disconnected) {
		s.phase = Closed
		s.mu.Unlock()
		s.tryEmit(Event{Kind: EventStateChanged, Phase: Closed})
	} else {
		s.mu.Unlock()
	}
	close(s.finished)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
