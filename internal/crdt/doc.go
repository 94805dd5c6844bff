// Package crdt implements the replicated text document at the heart of
// tandem: a sequence CRDT with causal delivery, a bounded pending queue and a
// chat transcript.
//
// ARCHITECTURE:
//
// Causal Delivery:
// Remote operations are applied only when vclock.IsCausallyReady holds
// against the document clock. Operations that arrive early wait in a bounded
// pending queue and are drained in cascade after every successful apply.
//
// Position Transform:
// Operations carry integer rune positions relative to the state their origin
// saw when emitting them (their causal view, given by their vector clock).
// Every inserted rune is kept as an item tagged with its inserting operation;
// deletions leave tombstones tagged with the deleting operations. To apply an
// operation, its position is resolved against the items visible in its causal
// view, and inserts are placed after that left neighbour, skipping concurrent
// items whose inserting operation has a higher priority (ir.Priority). This
// is the replicated-growable-array rule; it makes the final content a
// function of the operation set alone, independent of arrival order.
//
// Thread-safety:
// Document is NOT safe for concurrent use. The engine confines each document
// to one actor goroutine; ApplyLocal and ApplyRemote do no I/O and never
// block.
package crdt
