// Package oplog implements the append-only causal operation log kept by
// every document replica.
//
// The log holds operations in the order they were applied locally, which is
// always a causally valid order, plus the document clock (component-wise max
// over all applied operation clocks). Because operations are only appended
// once they are causally ready, the log never has a gap relative to its own
// clock: for every site s, the log holds exactly the operations s-1..s-clock[s].
//
// Thread-safety: Log is NOT safe for concurrent use. It is owned by exactly
// one document, which is itself confined to one actor goroutine.
package oplog

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/vclock"
)

// ErrDuplicate is returned by Append for an operation already in the log.
var ErrDuplicate = errors.New("operation already in log")

// ErrNotReady is returned by Append for an operation whose causal
// predecessors are missing.
var ErrNotReady = errors.New("operation not causally ready")

// Log is the per-document causal operation log.
type Log struct {
	ops   []ir.Operation
	ids   mapset.Set[string]
	clock vclock.Clock
}

// New creates an empty log.
func New() *Log {
	return &Log{
		ids:   mapset.NewThreadUnsafeSet[string](),
		clock: vclock.New(),
	}
}

// Append adds op to the end of the log and advances the clock.
// The caller must have checked causal readiness; Append re-checks and
// refuses to create a gap.
func (l *Log) Append(op ir.Operation) error {
	if l.ids.Contains(op.ID) {
		return fmt.Errorf("append %s: %w", op.ID, ErrDuplicate)
	}
	if !vclock.IsCausallyReady(op.Clock, l.clock, op.Origin) {
		return fmt.Errorf("append %s (clock %s, log %s): %w", op.ID, op.Clock, l.clock, ErrNotReady)
	}
	l.ops = append(l.ops, op)
	l.ids.Add(op.ID)
	l.clock = vclock.Merge(l.clock, op.Clock)
	return nil
}

// Contains reports whether an operation with id has been appended.
// This is the deduplication guard for at-least-once delivery.
func (l *Log) Contains(id string) bool {
	return l.ids.Contains(id)
}

// Clock returns the log clock. The returned value must not be mutated.
func (l *Log) Clock() vclock.Clock {
	return l.clock
}

// Len returns the number of operations in the log.
func (l *Log) Len() int {
	return len(l.ops)
}

// Operations returns a copy of the log in append order.
func (l *Log) Operations() []ir.Operation {
	out := make([]ir.Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// OperationsSince returns, in log order, every operation the holder of
// clock has not seen: those with Counter > clock[Origin]. Log order is
// causal, so the result can be applied by the requester as-is.
func (l *Log) OperationsSince(clock vclock.Clock) []ir.Operation {
	var out []ir.Operation
	for _, op := range l.ops {
		if op.Counter > clock.Get(op.Origin) {
			out = append(out, op)
		}
	}
	return out
}

// Target receives replayed operations.
type Target interface {
	ApplyReplayed(op ir.Operation) error
}

// ReplayInto applies every logged operation, in order, to target. Used to
// bootstrap a fresh replica from a full history.
func (l *Log) ReplayInto(target Target) error {
	for i, op := range l.ops {
		if err := target.ApplyReplayed(op); err != nil {
			return fmt.Errorf("replay op %d (%s): %w", i, op.ID, err)
		}
	}
	return nil
}

// Restore rebuilds a log from a previously captured operation sequence,
// validating that it is gap-free.
func Restore(ops []ir.Operation) (*Log, error) {
	l := New()
	for _, op := range ops {
		if err := l.Append(op); err != nil {
			return nil, fmt.Errorf("restore log: %w", err)
		}
	}
	return l, nil
}
