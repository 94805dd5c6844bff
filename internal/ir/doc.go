// Package ir provides the data and wire representation shared by every
// tandem package: operations, envelopes, and the canonical JSON used for
// content digests.
//
// ir imports only vclock; every other internal package imports ir. This
// keeps ir the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Operations are immutable once stamped; they travel by value
//   - Positions and lengths count runes, not bytes
//   - All JSON tags use snake_case
//   - No floats on the wire; timestamps are unix milliseconds
package ir
