package ir

import (
	"cmp"
	"fmt"
	"unicode/utf8"

	"github.com/roach88/tandem/internal/vclock"
)

// OpKind tags the variant carried by an Intent.
type OpKind string

const (
	// KindInsertText inserts Content at Position.
	KindInsertText OpKind = "insert_text"
	// KindDeleteText deletes Length runes starting at Position.
	KindDeleteText OpKind = "delete_text"
	// KindAddMessage appends Payload to the chat transcript.
	KindAddMessage OpKind = "add_message"
)

// Valid reports whether k is a known kind.
func (k OpKind) Valid() bool {
	switch k {
	case KindInsertText, KindDeleteText, KindAddMessage:
		return true
	}
	return false
}

// Intent is a site-local edit before it has been stamped with a clock.
// Only the fields relevant to Kind are meaningful.
type Intent struct {
	Kind     OpKind `json:"kind"`
	Position int    `json:"position,omitempty"`
	Content  string `json:"content,omitempty"`
	Length   int    `json:"length,omitempty"`
	Payload  string `json:"payload,omitempty"`
}

// Insert builds an insert_text intent.
func Insert(position int, content string) Intent {
	return Intent{Kind: KindInsertText, Position: position, Content: content}
}

// Delete builds a delete_text intent.
func Delete(position, length int) Intent {
	return Intent{Kind: KindDeleteText, Position: position, Length: length}
}

// AddMessage builds an add_message intent.
func AddMessage(payload string) Intent {
	return Intent{Kind: KindAddMessage, Payload: payload}
}

// ContentLen returns the rune length of an insert's content.
func (i Intent) ContentLen() int {
	return utf8.RuneCountInString(i.Content)
}

func (i Intent) String() string {
	switch i.Kind {
	case KindInsertText:
		return fmt.Sprintf("insert(%d, %q)", i.Position, i.Content)
	case KindDeleteText:
		return fmt.Sprintf("delete(%d, %d)", i.Position, i.Length)
	case KindAddMessage:
		return fmt.Sprintf("message(%q)", i.Payload)
	default:
		return fmt.Sprintf("unknown(%s)", i.Kind)
	}
}

// Operation is a stamped, immutable CRDT operation.
//
// An operation is created once at its origin site, transmitted by value and
// applied exactly once at every site (logs deduplicate by ID).
type Operation struct {
	Intent

	ID        string       `json:"id"`          // "{origin}-{counter}"
	Origin    string       `json:"origin_site"` // Emitting site
	Counter   uint64       `json:"counter"`     // Origin's local counter, == Clock[Origin]
	Clock     vclock.Clock `json:"clock"`       // Vector clock at emission
	Timestamp int64        `json:"timestamp"`   // Wall clock, unix milliseconds
}

// OpID formats the globally unique ID of the counter-th operation of site.
func OpID(site string, counter uint64) string {
	return fmt.Sprintf("%s-%d", site, counter)
}

// Ref identifies an operation by origin and counter. Refs are cheaper to
// compare against a clock than IDs: an operation is in the causal past of
// clock c iff c[Site] >= Counter.
type Ref struct {
	Site    string `json:"site" cbor:"1,keyasint"`
	Counter uint64 `json:"counter" cbor:"2,keyasint"`
}

// SeenBy reports whether the referenced operation is covered by c.
func (r Ref) SeenBy(c vclock.Clock) bool {
	return c.Get(r.Site) >= r.Counter
}

// String returns the operation ID form of r.
func (r Ref) String() string {
	return OpID(r.Site, r.Counter)
}

// Ref returns the operation's reference.
func (op Operation) Ref() Ref {
	return Ref{Site: op.Origin, Counter: op.Counter}
}

// Validate checks the structural invariants of a stamped operation.
// It does not check positions against any document.
func (op Operation) Validate() error {
	if op.Origin == "" {
		return fmt.Errorf("operation %q: missing origin site", op.ID)
	}
	if op.Counter == 0 {
		return fmt.Errorf("operation %q: counter must be positive", op.ID)
	}
	if op.ID != OpID(op.Origin, op.Counter) {
		return fmt.Errorf("operation %q: id does not match %s", op.ID, OpID(op.Origin, op.Counter))
	}
	if op.Clock.Get(op.Origin) != op.Counter {
		return fmt.Errorf("operation %q: clock[%s]=%d, want %d", op.ID, op.Origin, op.Clock.Get(op.Origin), op.Counter)
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("operation %q: unknown kind %q", op.ID, op.Kind)
	}
	if op.Position < 0 || op.Length < 0 {
		return fmt.Errorf("operation %q: negative position or length", op.ID)
	}
	return nil
}

// Priority is the deterministic total order used to break ties between
// concurrent operations.
//
// Depth (the sum of the emission clock) comes first so the order never
// contradicts causality; among concurrent operations of equal depth the
// order is (Timestamp, Site) with Counter as a final tie-break.
//
// The sequence places higher keys first: of two concurrent inserts at the
// same position, the later one (greater key) lands left and the earlier one
// is shifted right of it.
type Priority struct {
	Depth     uint64 `cbor:"1,keyasint"`
	Timestamp int64  `cbor:"2,keyasint"`
	Site      string `cbor:"3,keyasint"`
	Counter   uint64 `cbor:"4,keyasint"`
}

// Priority returns op's tie-break key.
func (op Operation) Priority() Priority {
	return Priority{
		Depth:     op.Clock.Depth(),
		Timestamp: op.Timestamp,
		Site:      op.Origin,
		Counter:   op.Counter,
	}
}

// Compare returns -1, 0 or +1 as p sorts before, equal to, or after q.
func (p Priority) Compare(q Priority) int {
	if c := cmp.Compare(p.Depth, q.Depth); c != 0 {
		return c
	}
	if c := cmp.Compare(p.Timestamp, q.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(p.Site, q.Site); c != 0 {
		return c
	}
	return cmp.Compare(p.Counter, q.Counter)
}

// Less reports whether p sorts strictly before q.
func (p Priority) Less(q Priority) bool {
	return p.Compare(q) < 0
}

// Message is one entry of the chat transcript.
type Message struct {
	OpID      string `json:"op_id"`
	Site      string `json:"site"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}
