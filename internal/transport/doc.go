// Package transport delivers envelopes between tandem sites.
//
// A Session owns one logical connection to a peer and hides its churn:
//
//	Disconnected ──Connect──▶ Connecting ──open──▶ Connected
//	      ▲                       │                    │
//	      │                 fail (attempts < max)   loss
//	      │                       ▼                    ▼
//	      │                  Reconnecting ◀──────  Disconnected
//	      │                       │
//	      └── fail (attempts >= max): ReconnectExhausted
//
// Any phase moves to Closed on Disconnect, which is terminal.
//
// Delivery is at-least-once and best effort. Send never blocks: envelopes
// wait in a bounded outbound queue until a connection accepts them and the
// oldest is dropped at capacity. Dropped operations are not lost, since the
// engine closes every gap with a sync_request after each reconnect.
//
// Liveness is checked with heartbeat pings; a connection whose pings go
// unanswered MaxMissedHeartbeats times in a row is treated as lost.
//
// Connections are abstracted behind Conn and Dialer. WebSocket (gorilla)
// is the production transport; Pipe connects sessions in memory for tests
// and simulations.
package transport
