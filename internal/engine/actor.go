package engine

import (
	"context"
	"errors"

	"github.com/roach88/tandem/internal/crdt"
)

// DefaultMailboxCapacity bounds each document's command mailbox.
const DefaultMailboxCapacity = 256

// ErrStopped is returned when the coordinator or a document actor has shut down.
var ErrStopped = errors.New("coordinator stopped")

// command runs inside a document actor.
type command struct {
	fn   func(*crdt.Document)
	done chan []crdt.Event
}

// actor confines one document to one goroutine.
//
// CRITICAL: doc is touched only inside run. Every access from outside goes
// through do, which queues a command and waits for its events.
type actor struct {
	doc     *crdt.Document
	mailbox chan command
	stopped chan struct{}
}

func newActor(doc *crdt.Document, capacity int) *actor {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &actor{
		doc:     doc,
		mailbox: make(chan command, capacity),
		stopped: make(chan struct{}),
	}
}

// run processes commands until ctx ends. Events raised by a command are
// drained right after it and handed back to the caller.
func (a *actor) run(ctx context.Context) {
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.mailbox:
			cmd.fn(a.doc)
			cmd.done <- a.doc.Drain()
		}
	}
}

// do runs fn inside the actor and returns the events it raised. It blocks
// while the mailbox is full.
func (a *actor) do(ctx context.Context, fn func(*crdt.Document)) ([]crdt.Event, error) {
	cmd := command{fn: fn, done: make(chan []crdt.Event, 1)}
	select {
	case a.mailbox <- cmd:
	case <-a.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case events := <-cmd.done:
		return events, nil
	case <-a.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
