package transport

import (
	"sync"

	"github.com/roach88/tandem/internal/ir"
)

// DefaultOutboundCapacity bounds the outbound queue.
const DefaultOutboundCapacity = 100

type queued struct {
	seq uint64
	env ir.Envelope
}

// outboundQueue is the bounded FIFO of envelopes not yet written.
//
// The writer peeks the front entry, writes it, then acks it by sequence
// number. An entry evicted by overflow while being written is simply not
// found by Ack. A write failure leaves the entry queued so it is retried on
// the next connection: delivery is at-least-once.
//
// The signal channel follows the same coalescing pattern as the engine's
// mailbox: a buffer of one, written without blocking.
type outboundQueue struct {
	mu       sync.Mutex
	items    []queued
	next     uint64
	capacity int
	signal   chan struct{}
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = DefaultOutboundCapacity
	}
	return &outboundQueue{
		items:    make([]queued, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push appends env. At capacity the oldest entry is evicted and returned.
func (q *outboundQueue) Push(env ir.Envelope) (dropped ir.Envelope, evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		dropped = q.items[0].env
		q.items[0] = queued{}
		q.items = q.items[1:]
		evicted = true
	}
	q.next++
	q.items = append(q.items, queued{seq: q.next, env: env})

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return dropped, evicted
}

// Peek returns the front entry without removing it.
func (q *outboundQueue) Peek() (uint64, ir.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, ir.Envelope{}, false
	}
	return q.items[0].seq, q.items[0].env, true
}

// Ack removes the front entry if it is still seq.
func (q *outboundQueue) Ack(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.items[0].seq == seq {
		q.items[0] = queued{}
		if len(q.items) == 1 {
			q.items = q.items[:0]
		} else {
			q.items = q.items[1:]
		}
	}
}

// Len returns the number of queued envelopes.
func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait returns a channel that signals when entries may be available.
func (q *outboundQueue) Wait() <-chan struct{} {
	return q.signal
}

// Snapshot returns the queued envelopes, oldest first.
func (q *outboundQueue) Snapshot() []ir.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ir.Envelope, len(q.items))
	for i, it := range q.items {
		out[i] = it.env
	}
	return out
}
