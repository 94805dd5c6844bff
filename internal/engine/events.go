package engine

import (
	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/transport"
)

// EventKind names a coordinator notification.
type EventKind string

// Document notifications, forwarded from crdt.
const (
	EventOperationApplied  = EventKind(crdt.EventOperationApplied)
	EventConflictDetected  = EventKind(crdt.EventConflictDetected)
	EventDocumentUpdated   = EventKind(crdt.EventDocumentUpdated)
	EventCausalityOverflow = EventKind(crdt.EventCausalityOverflow)
	EventOperationBuffered = EventKind(crdt.EventOperationBuffered)
)

// Session notifications, forwarded from transport.
const (
	EventSessionState       EventKind = "session_state"
	EventReconnectExhausted EventKind = "reconnect_exhausted"
	EventOutboundDropped    EventKind = "outbound_dropped"
)

// Event is one entry of the coordinator's merged notification stream.
type Event struct {
	// Seq is strictly increasing across the process.
	Seq int64

	Kind      EventKind
	DocID     string
	SessionID string

	// Op is the affected operation for document events.
	Op ir.Operation

	Local          bool
	ConcurrentWith []string
	Version        int

	// Phase is the session phase for session events.
	Phase    transport.Phase
	Attempts int

	Err error
}

func fromDocument(ev crdt.Event) Event {
	return Event{
		Kind:           EventKind(ev.Kind),
		DocID:          ev.DocID,
		Op:             ev.Op,
		Local:          ev.Local,
		ConcurrentWith: ev.ConcurrentWith,
		Version:        ev.Version,
		Err:            ev.Err,
	}
}

func fromSession(ev transport.Event) Event {
	out := Event{
		SessionID: ev.SessionID,
		Phase:     ev.Phase,
		Attempts:  ev.Attempts,
		Err:       ev.Err,
	}
	switch ev.Kind {
	case transport.EventReconnectExhausted:
		out.Kind = EventReconnectExhausted
	case transport.EventOutboundDropped:
		out.Kind = EventOutboundDropped
		out.DocID = ev.Dropped.DocID
	default:
		out.Kind = EventSessionState
	}
	return out
}
