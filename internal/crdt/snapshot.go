package crdt

import (
	"fmt"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/oplog"
	"github.com/roach88/tandem/internal/vclock"
)

// Snapshot is a point-in-time copy of a replica: enough to bootstrap a new
// Document without replaying history from site zero.
type Snapshot struct {
	DocID      string         `cbor:"1,keyasint"`
	Content    string         `cbor:"2,keyasint"`
	Clock      vclock.Clock   `cbor:"3,keyasint"`
	Version    int            `cbor:"4,keyasint"`
	Operations []ir.Operation `cbor:"5,keyasint"`
	Items      []Item         `cbor:"6,keyasint,omitempty"`
	Pending    []ir.Operation `cbor:"7,keyasint,omitempty"`
	TakenAt    int64          `cbor:"8,keyasint"` // unix milliseconds
}

// Snapshot captures the replica state, including pending operations.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		DocID:      d.id,
		Content:    d.Content(),
		Clock:      d.Clock(),
		Version:    d.Version(),
		Operations: d.log.Operations(),
		Items:      d.seq.snapshot(),
		Pending:    d.pending.Operations(),
		TakenAt:    d.now().UnixMilli(),
	}
}

// Restore rebuilds a replica of snap for site. When the snapshot carries
// sequence items they are adopted directly; otherwise the operations are
// replayed into a fresh document. Either way the rebuilt content and clock
// must match the snapshot.
func Restore(snap Snapshot, site string, opts ...Option) (*Document, error) {
	d := New(snap.DocID, site, opts...)

	if len(snap.Items) == 0 {
		replay, err := oplog.Restore(snap.Operations)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", snap.DocID, err)
		}
		if err := replay.ReplayInto(d); err != nil {
			return nil, fmt.Errorf("restore %s: %w", snap.DocID, err)
		}
		d.Drain()
	} else {
		log, err := oplog.Restore(snap.Operations)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", snap.DocID, err)
		}
		d.log = log
		d.seq = newSequence(cloneItems(snap.Items))
		for _, op := range snap.Operations {
			if op.Kind == ir.KindAddMessage {
				d.addMessage(op)
			}
		}
	}

	if got := d.Content(); got != snap.Content {
		return nil, fmt.Errorf("restore %s: content mismatch: rebuilt %q, snapshot %q", snap.DocID, got, snap.Content)
	}
	if !d.log.Clock().Equal(snap.Clock) {
		return nil, fmt.Errorf("restore %s: clock mismatch: rebuilt %s, snapshot %s", snap.DocID, d.log.Clock(), snap.Clock)
	}

	for _, op := range snap.Pending {
		if _, err := d.ApplyRemote(op); err != nil {
			return nil, fmt.Errorf("restore %s: pending %s: %w", snap.DocID, op.ID, err)
		}
	}
	d.Drain()
	return d, nil
}

func cloneItems(items []Item) []Item {
	s := &sequence{items: items}
	return s.snapshot()
}
