package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrConnClosed is returned by operations on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// ErrUnavailable is returned by a PipeListener that is down.
var ErrUnavailable = errors.New("peer unavailable")

// Conn is an ordered, reliable, message-framed connection.
//
// Read blocks until a frame arrives or the connection fails; Close
// unblocks a pending Read. Write may be called from one goroutine at a time.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens connections to a peer. Dial must honour ctx cancellation
// and deadline.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

const pipeBuffer = 256

// pipeConn is one end of an in-memory connection.
type pipeConn struct {
	in       <-chan []byte
	out      chan<- []byte
	done     chan struct{}
	peerDone <-chan struct{}
	once     sync.Once
}

// Pipe returns both ends of an in-memory connection. Frames written to one
// end are read from the other in order. Closing either end fails both.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	aDone := make(chan struct{})
	bDone := make(chan struct{})
	a := &pipeConn{in: ba, out: ab, done: aDone, peerDone: bDone}
	b := &pipeConn{in: ab, out: ba, done: bDone, peerDone: aDone}
	return a, b
}

func (c *pipeConn) Read() ([]byte, error) {
	select {
	case <-c.done:
		return nil, ErrConnClosed
	default:
	}
	// Frames already in flight are delivered before a peer close is seen.
	select {
	case data := <-c.in:
		return data, nil
	default:
	}
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		return nil, ErrConnClosed
	case <-c.peerDone:
		return nil, io.EOF
	}
}

func (c *pipeConn) Write(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case <-c.peerDone:
		return io.ErrClosedPipe
	default:
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-c.peerDone:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// PipeListener hands out in-memory connections: every Dial creates a pipe
// and queues its far end for Accept. SetDown makes Dial fail, simulating an
// unreachable peer.
type PipeListener struct {
	conns chan Conn

	mu    sync.Mutex
	down  bool
	dials int
}

// NewPipeListener creates a listener that is up.
func NewPipeListener() *PipeListener {
	return &PipeListener{conns: make(chan Conn, 16)}
}

// Dial implements Dialer.
func (l *PipeListener) Dial(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	l.dials++
	down := l.down
	l.mu.Unlock()
	if down {
		return nil, ErrUnavailable
	}

	local, remote := Pipe()
	select {
	case l.conns <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept returns the far end of the next dialed connection.
func (l *PipeListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetDown toggles whether Dial fails.
func (l *PipeListener) SetDown(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = down
}

// Dials returns the number of Dial calls so far.
func (l *PipeListener) Dials() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dials
}
