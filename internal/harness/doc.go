// Package harness runs deterministic multi-site simulations of shared
// documents.
//
// A scenario names a set of sites editing one document and a sequence of
// steps: local edits, and explicit control over the simulated network
// between the sites. Every operation a site emits is queued, as an encoded
// wire envelope, on the directed link to each other site. Nothing arrives
// until a step delivers it, so scenarios can reorder, delay, drop and
// resynchronise operations at will.
//
// # Scenario Format
//
//	name: concurrent_insert
//	description: "Concurrent inserts at the same position converge"
//	doc_id: notes
//	sites: [alice, bob]
//	steps:
//	  - site: alice
//	    insert: { position: 0, content: "foo" }
//	  - site: bob
//	    insert: { position: 0, content: "bar" }
//	  - deliver: { from: alice, to: bob }
//	  - deliver: { from: bob, to: alice }
//	assertions:
//	  - type: converged
//	  - type: content
//	    site: alice
//	    equals: "barfoo"
//
// Step types:
//
//   - insert, delete, message: a local edit at site
//   - deliver: hand queued envelopes from one site to another, all of them
//     or only the one carrying op
//   - drop: discard queued envelopes on a link
//   - sync: to asks from for everything it has not seen
//   - sync_all: pairwise sync until no site learns anything new
//
// A step may carry expect with an outcome (applied, buffered, duplicate,
// rejected) or an error code.
//
// # Assertion Types
//
//   - content: a site's visible text equals a value
//   - converged: every site has the same digest
//   - pending: a site holds count buffered operations
//   - clock: a site's vector clock equals a map
//   - messages: a site's transcript payloads, in order
//   - event_count: a site raised count events of kind
//
// # Deterministic Execution
//
// Timestamps come from a shared testutil.DeterministicClock and envelope
// IDs from engine.SequenceGenerator, so a scenario always yields the same
// trace. RunWithGolden compares that trace, as canonical JSON, against
// testdata/golden/{name}.golden.
package harness
