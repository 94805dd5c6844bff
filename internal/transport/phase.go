package transport

import (
	"fmt"
	"time"

	"github.com/roach88/tandem/internal/ir"
)

// Phase is a session's connection state.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// EventKind names a session notification.
type EventKind string

const (
	// EventStateChanged reports a phase transition.
	EventStateChanged EventKind = "state_changed"
	// EventReconnectExhausted reports that the session stopped redialing.
	EventReconnectExhausted EventKind = "reconnect_exhausted"
	// EventOutboundDropped reports an envelope evicted from the outbound queue.
	EventOutboundDropped EventKind = "outbound_dropped"
)

// Event is a session notification.
type Event struct {
	Kind      EventKind
	SessionID string
	Phase     Phase
	Attempts  int
	Err       error
	Dropped   ir.Envelope
	At        time.Time
}
