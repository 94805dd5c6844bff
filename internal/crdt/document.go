package crdt

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/oplog"
	"github.com/roach88/tandem/internal/vclock"
)

// Outcome reports what ApplyRemote did with an operation.
type Outcome int

const (
	// Applied means the operation was integrated (and the pending queue drained).
	Applied Outcome = iota
	// Buffered means the operation waits in the pending queue.
	Buffered
	// Duplicate means the operation was already applied or already pending.
	Duplicate
	// Rejected means the operation was malformed and was not applied.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Buffered:
		return "buffered"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Option configures a Document.
type Option func(*Document)

// WithPendingCapacity bounds the pending queue. Non-positive values select
// DefaultPendingCapacity.
func WithPendingCapacity(n int) Option {
	return func(d *Document) {
		d.pending = newPendingQueue(n)
	}
}

// WithNow overrides the wall clock used to timestamp local operations.
func WithNow(now func() time.Time) Option {
	return func(d *Document) {
		d.now = now
	}
}

// Document is one replica of a shared document.
type Document struct {
	id   string
	site string

	seq      *sequence
	log      *oplog.Log
	pending  *pendingQueue
	messages []ir.Message
	msgKeys  []ir.Priority

	events []Event
	now    func() time.Time
}

// New creates an empty replica of docID owned by site.
func New(docID, site string, opts ...Option) *Document {
	d := &Document{
		id:      docID,
		site:    site,
		seq:     newSequence(nil),
		log:     oplog.New(),
		pending: newPendingQueue(DefaultPendingCapacity),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ID returns the document ID.
func (d *Document) ID() string { return d.id }

// Site returns the local site ID.
func (d *Document) Site() string { return d.site }

// Content returns the materialized text.
func (d *Document) Content() string {
	return d.seq.String()
}

// Len returns the content length in runes.
func (d *Document) Len() int {
	return d.seq.Len()
}

// Clock returns a copy of the document clock.
func (d *Document) Clock() vclock.Clock {
	return d.log.Clock().Copy()
}

// Version is the number of applied operations.
func (d *Document) Version() int {
	return d.log.Len()
}

// PendingCount returns the number of causally blocked operations.
func (d *Document) PendingCount() int {
	return d.pending.Len()
}

// Messages returns the chat transcript in priority order.
func (d *Document) Messages() []ir.Message {
	return slices.Clone(d.messages)
}

// OperationsSince returns the applied operations the holder of clock lacks.
func (d *Document) OperationsSince(clock vclock.Clock) []ir.Operation {
	return d.log.OperationsSince(clock)
}

// Contains reports whether op id has been applied.
func (d *Document) Contains(id string) bool {
	return d.log.Contains(id)
}

// Digest fingerprints the converged state.
func (d *Document) Digest() (string, error) {
	return ir.DocumentDigest(d.Content(), d.log.Clock(), d.messages)
}

// Drain returns and clears the accumulated events.
func (d *Document) Drain() []Event {
	out := d.events
	d.events = nil
	return out
}

// ApplyLocal stamps intent with the next local clock, applies it and
// appends it to the log. Bad positions or ranges are rejected with an
// InvalidOperation error and leave the document unchanged.
func (d *Document) ApplyLocal(intent ir.Intent) (ir.Operation, error) {
	if reason := d.checkLocal(intent); reason != "" {
		return ir.Operation{}, ir.NewInvalidOperationError(d.id, intent, reason)
	}

	clock := d.log.Clock().Increment(d.site)
	counter := clock.Get(d.site)
	op := ir.Operation{
		Intent:    intent,
		ID:        ir.OpID(d.site, counter),
		Origin:    d.site,
		Counter:   counter,
		Clock:     clock,
		Timestamp: d.now().UnixMilli(),
	}
	if err := d.integrate(op, true); err != nil {
		return ir.Operation{}, err
	}
	return op, nil
}

func (d *Document) checkLocal(intent ir.Intent) string {
	n := d.seq.Len()
	switch intent.Kind {
	case ir.KindInsertText:
		if intent.Content == "" {
			return "empty content"
		}
		if intent.Position < 0 || intent.Position > n {
			return fmt.Sprintf("position %d outside [0, %d]", intent.Position, n)
		}
	case ir.KindDeleteText:
		if intent.Length <= 0 {
			return fmt.Sprintf("length %d must be positive", intent.Length)
		}
		if intent.Position < 0 || intent.Position+intent.Length > n {
			return fmt.Sprintf("range [%d, %d) outside [0, %d)", intent.Position, intent.Position+intent.Length, n)
		}
	case ir.KindAddMessage:
		if intent.Payload == "" {
			return "empty payload"
		}
	default:
		return fmt.Sprintf("unknown kind %q", intent.Kind)
	}
	return ""
}

// ApplyRemote integrates an operation received from another site.
//
// Operations already applied or already pending are absorbed as Duplicate.
// Operations that are not causally ready are buffered; when the pending
// queue is full its oldest entry is dropped and a CausalityOverflow error is
// returned together with Buffered. Every successful apply drains the pending
// queue until nothing more is ready.
func (d *Document) ApplyRemote(op ir.Operation) (Outcome, error) {
	if err := op.Validate(); err != nil {
		serr := ir.NewInvalidOperationError(d.id, op.Intent, err.Error())
		serr.OpID = op.ID
		return Rejected, serr
	}

	clock := d.log.Clock()
	if op.Counter <= clock.Get(op.Origin) || d.pending.Contains(op.ID) {
		return Duplicate, nil
	}

	if !vclock.IsCausallyReady(op.Clock, clock, op.Origin) {
		dropped, evicted := d.pending.Push(op)
		if evicted {
			err := ir.NewCausalityOverflowError(d.id, dropped, d.pending.capacity)
			d.emit(Event{Kind: EventCausalityOverflow, Op: dropped, Err: err})
			return Buffered, err
		}
		d.emit(Event{Kind: EventOperationBuffered, Op: op})
		return Buffered, nil
	}

	if err := d.applyReady(op); err != nil {
		return Rejected, err
	}
	for {
		next, ok := d.pending.PopReady(d.log.Clock())
		if !ok {
			break
		}
		if err := d.applyReady(next); err != nil {
			return Applied, err
		}
	}
	return Applied, nil
}

// ApplyReplayed feeds a logged operation through the remote path. It
// implements oplog.Target.
func (d *Document) ApplyReplayed(op ir.Operation) error {
	outcome, err := d.ApplyRemote(op)
	if err != nil {
		return err
	}
	if outcome != Applied {
		return fmt.Errorf("replayed operation %s was %s", op.ID, outcome)
	}
	return nil
}

func (d *Document) applyReady(op ir.Operation) error {
	if concurrent := d.concurrentWith(op); len(concurrent) > 0 {
		d.emit(Event{Kind: EventConflictDetected, Op: op, ConcurrentWith: concurrent})
	}
	return d.integrate(op, false)
}

// concurrentWith lists applied operations outside op's causal past.
func (d *Document) concurrentWith(op ir.Operation) []string {
	if op.Clock.Descends(d.log.Clock()) {
		return nil
	}
	var ids []string
	for _, prior := range d.log.OperationsSince(op.Clock) {
		if prior.Origin != op.Origin {
			ids = append(ids, prior.ID)
		}
	}
	return ids
}

func (d *Document) integrate(op ir.Operation, local bool) error {
	changed := false
	switch op.Kind {
	case ir.KindInsertText:
		d.seq.insert(op)
		changed = op.Content != ""
	case ir.KindDeleteText:
		changed = d.seq.remove(op) > 0
	case ir.KindAddMessage:
		d.addMessage(op)
		changed = true
	}
	if err := d.log.Append(op); err != nil {
		return fmt.Errorf("document %s: %w", d.id, err)
	}

	version := d.log.Len()
	d.emit(Event{Kind: EventOperationApplied, Op: op, Local: local, Version: version})
	if changed {
		d.emit(Event{Kind: EventDocumentUpdated, Op: op, Local: local, Version: version})
	}
	return nil
}

func (d *Document) addMessage(op ir.Operation) {
	key := op.Priority()
	i, _ := slices.BinarySearchFunc(d.msgKeys, key, ir.Priority.Compare)
	d.msgKeys = slices.Insert(d.msgKeys, i, key)
	d.messages = slices.Insert(d.messages, i, ir.Message{
		OpID:      op.ID,
		Site:      op.Origin,
		Payload:   op.Payload,
		Timestamp: op.Timestamp,
	})
}

func (d *Document) emit(ev Event) {
	ev.DocID = d.id
	if ev.Version == 0 {
		ev.Version = d.log.Len()
	}
	d.events = append(d.events, ev)
}
