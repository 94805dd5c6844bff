// Package store persists document snapshots.
//
// Three backends implement the same contract (SaveSnapshot, LoadSnapshot,
// ListSnapshots, DeleteSnapshot):
//   - Store: SQLite file, the default for peers and single-node servers
//   - BoltStore: bbolt file, for embedded peers without cgo-heavy setups
//   - PGStore: PostgreSQL via pgxpool, for servers sharing a database
//
// # Snapshot Encoding
//
// The full snapshot (content, clock, operation log, sequence items and
// pending operations) is encoded with Core Deterministic CBOR and then
// zstd compressed. Identical replica state always produces identical
// bytes. Content, clock and version are also stored in plain columns so
// listings never decode the blob.
//
// # Write Semantics
//
// Saves are upserts keyed by document ID. A save never replaces a snapshot
// with a lower version, so a late periodic snapshot cannot roll back a newer
// one written by the shutdown path.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Writes that still hit SQLITE_BUSY are retried with exponential backoff.
package store
