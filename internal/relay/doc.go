// Package relay connects coordinator instances that serve the same
// documents.
//
// A relay server forwards every operation it applies to its own sessions.
// With several server instances behind a load balancer, clients of
// different instances would never see each other's edits; a Bus closes that
// gap by publishing every forwarded envelope to all instances.
//
// RedisBus uses Redis pub/sub and is what production deployments use.
// MemoryBus connects coordinators inside one process, for tests and the
// simulator.
//
// Delivery is best effort on both buses. A lost envelope is recovered by
// the next sync_request exchange, like any other transport loss.
package relay
