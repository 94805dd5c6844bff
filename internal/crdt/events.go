package crdt

import "github.com/roach88/tandem/internal/ir"

// EventKind names a document notification.
type EventKind string

const (
	// EventOperationApplied fires once per operation integrated into the document.
	EventOperationApplied EventKind = "operation_applied"
	// EventConflictDetected fires when a remote operation is concurrent with
	// operations the document had already applied.
	EventConflictDetected EventKind = "conflict_detected"
	// EventDocumentUpdated fires when content or transcript changed.
	EventDocumentUpdated EventKind = "document_updated"
	// EventCausalityOverflow fires when the pending queue dropped its oldest entry.
	EventCausalityOverflow EventKind = "causality_overflow"
	// EventOperationBuffered fires when a remote operation waits for its predecessors.
	EventOperationBuffered EventKind = "operation_buffered"
)

// Event is a typed document notification. Events accumulate inside the
// document and are collected with Drain by the owning actor.
type Event struct {
	Kind  EventKind
	DocID string

	// Op is the applied, buffered or (for overflow) dropped operation.
	Op ir.Operation

	// Local is true for operations emitted by this replica.
	Local bool

	// ConcurrentWith lists the IDs of already-applied operations the
	// conflicting operation had not seen.
	ConcurrentWith []string

	// Version is the document version after the event.
	Version int

	// Err carries the surfaced error for overflow events.
	Err error
}
