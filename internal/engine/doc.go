// Package engine wires documents and transport sessions together.
//
// The Coordinator owns every open document and every attached session of a
// process. It routes local edits out to the sessions, routes inbound
// envelopes to the right document, and closes the gaps left by lossy
// transport with sync_request/sync_response exchanges.
//
// ARCHITECTURE:
//
// Document Actors:
// Each document lives in its own goroutine and is touched only through a
// bounded mailbox of commands. Local edits, remote applies, pending-queue
// drains and queries are therefore serialized per document, while
// different documents proceed in parallel. A full mailbox applies
// backpressure to the sender; there is no shared document mutex.
//
// Session Pumps:
// Each attached session gets one pump goroutine that consumes its inbound
// envelopes and its state events in order. Per-session ordering is
// preserved end to end; there is no ordering across sessions.
//
// Resync:
// On every transition to Connected, the coordinator sends one sync_request
// per document carrying the local clock. The peer answers with exactly the
// operations the clock lacks. Because the outbound queue may drop entries
// during an outage, this exchange, not the queue, is what guarantees
// convergence after reconnect.
//
// Relay Mode:
// A server runs the coordinator in relay mode: remote operations it
// applies are forwarded to every other session and published on the
// cross-instance bus, and unknown documents are registered on first use.
//
// Events:
// Document and session notifications are merged into one buffered channel
// and stamped with a process-wide sequence number. A slow consumer loses
// events (with a warning), never the engine's progress.
package engine
