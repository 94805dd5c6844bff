package crdt

import (
	"slices"
	"strings"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/vclock"
)

// Item is one rune of the sequence, live or tombstoned.
type Item struct {
	Op      ir.Ref      `cbor:"1,keyasint"` // Inserting operation
	Offset  int         `cbor:"2,keyasint"` // Rune index within the operation's content
	Key     ir.Priority `cbor:"3,keyasint"` // Inserting operation's priority
	Value   rune        `cbor:"4,keyasint"`
	Deleted []ir.Ref    `cbor:"5,keyasint,omitempty"` // Deleting operations
}

// Live reports whether no applied operation deleted the item.
func (it Item) Live() bool {
	return len(it.Deleted) == 0
}

// inView reports whether the item is visible to an operation whose causal
// past is view: inserted within the view and not deleted within it.
func (it Item) inView(view vclock.Clock) bool {
	if !it.Op.SeenBy(view) {
		return false
	}
	for _, del := range it.Deleted {
		if del.SeenBy(view) {
			return false
		}
	}
	return true
}

// sequence is the ordered item list. Items are never removed.
type sequence struct {
	items []Item
	live  int
}

func newSequence(items []Item) *sequence {
	s := &sequence{items: items}
	for _, it := range items {
		if it.Live() {
			s.live++
		}
	}
	return s
}

// Len returns the number of live runes.
func (s *sequence) Len() int {
	return s.live
}

// String materializes the live content.
func (s *sequence) String() string {
	var b strings.Builder
	for _, it := range s.items {
		if it.Live() {
			b.WriteRune(it.Value)
		}
	}
	return b.String()
}

// viewLen counts the items visible in view.
func (s *sequence) viewLen(view vclock.Clock) int {
	n := 0
	for _, it := range s.items {
		if it.inView(view) {
			n++
		}
	}
	return n
}

// anchor returns the index of the pos-th item visible in view (1-based),
// or -1 for the head of the sequence. pos is clamped to [0, viewLen].
func (s *sequence) anchor(view vclock.Clock, pos int) int {
	if pos <= 0 {
		return -1
	}
	last := -1
	seen := 0
	for i, it := range s.items {
		if !it.inView(view) {
			continue
		}
		last = i
		seen++
		if seen == pos {
			return i
		}
	}
	return last
}

// insert integrates op's content after the item at its view position.
// Starting right of the anchor, items whose inserting operation outranks op
// are skipped: they are concurrent siblings (or their descendants) that
// sort first. The first item ranked below op marks the insertion point.
// Returns the clamped position actually used in op's view.
func (s *sequence) insert(op ir.Operation) int {
	runes := []rune(op.Content)
	if len(runes) == 0 {
		return op.Position
	}

	pos := min(max(op.Position, 0), s.viewLen(op.Clock))
	key := op.Priority()
	ref := op.Ref()

	idx := s.anchor(op.Clock, pos) + 1
	for idx < len(s.items) && s.items[idx].Key.Compare(key) > 0 {
		idx++
	}

	run := make([]Item, len(runes))
	for i, r := range runes {
		run[i] = Item{Op: ref, Offset: i, Key: key, Value: r}
	}
	s.items = slices.Insert(s.items, idx, run...)
	s.live += len(run)
	return pos
}

// remove tombstones the items at view positions [pos, pos+length), clamped
// to the view. Items already deleted by a concurrent operation gain a second
// tombstone reference; the live count only drops for the first.
// Returns the number of runes that became dead.
func (s *sequence) remove(op ir.Operation) int {
	start := max(op.Position, 0)
	end := start + max(op.Length, 0)
	ref := op.Ref()

	died := 0
	seen := 0
	for i := range s.items {
		if seen >= end {
			break
		}
		it := &s.items[i]
		if !it.inView(op.Clock) {
			continue
		}
		if seen >= start {
			if it.Live() {
				died++
			}
			it.Deleted = append(it.Deleted, ref)
		}
		seen++
	}
	s.live -= died
	return died
}

// snapshot returns a deep copy of the items.
func (s *sequence) snapshot() []Item {
	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[i] = it
		out[i].Deleted = slices.Clone(it.Deleted)
	}
	return out
}
