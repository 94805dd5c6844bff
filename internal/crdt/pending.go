package crdt

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/vclock"
)

// DefaultPendingCapacity bounds the pending queue. Unbounded buffering under
// a long partition would leak memory.
const DefaultPendingCapacity = 1000

// pendingQueue holds remote operations that are not yet causally ready,
// oldest first. At capacity the oldest entry is evicted.
type pendingQueue struct {
	ops      []ir.Operation
	ids      mapset.Set[string]
	capacity int
}

func newPendingQueue(capacity int) *pendingQueue {
	if capacity <= 0 {
		capacity = DefaultPendingCapacity
	}
	return &pendingQueue{
		ids:      mapset.NewThreadUnsafeSet[string](),
		capacity: capacity,
	}
}

// Len returns the number of buffered operations.
func (q *pendingQueue) Len() int {
	return len(q.ops)
}

// Contains reports whether an operation with id is buffered.
func (q *pendingQueue) Contains(id string) bool {
	return q.ids.Contains(id)
}

// Push buffers op. If the queue was full, the evicted oldest operation is
// returned with evicted == true.
func (q *pendingQueue) Push(op ir.Operation) (dropped ir.Operation, evicted bool) {
	if len(q.ops) >= q.capacity {
		dropped = q.ops[0]
		q.ops[0] = ir.Operation{}
		q.ops = q.ops[1:]
		q.ids.Remove(dropped.ID)
		evicted = true
	}
	q.ops = append(q.ops, op)
	q.ids.Add(op.ID)
	return dropped, evicted
}

// PopReady removes and returns the oldest buffered operation that is ready
// against clock. Operations already covered by clock are discarded on the
// way, since they were delivered through another path.
func (q *pendingQueue) PopReady(clock vclock.Clock) (ir.Operation, bool) {
	for i := 0; i < len(q.ops); i++ {
		op := q.ops[i]
		if op.Counter <= clock.Get(op.Origin) {
			q.removeAt(i)
			i--
			continue
		}
		if vclock.IsCausallyReady(op.Clock, clock, op.Origin) {
			q.removeAt(i)
			return op, true
		}
	}
	return ir.Operation{}, false
}

// Operations returns a copy of the buffered operations, oldest first.
func (q *pendingQueue) Operations() []ir.Operation {
	out := make([]ir.Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

func (q *pendingQueue) removeAt(i int) {
	q.ids.Remove(q.ops[i].ID)
	q.ops = append(q.ops[:i], q.ops[i+1:]...)
}
