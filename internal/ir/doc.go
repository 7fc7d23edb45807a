// Package ir defines the intermediate representation shared by every layer
// of the weft dispatcher: the constrained value domain, event records, and
// the compiled form of declarative rules.
//
// DESIGN CONSTRAINTS:
//
// Constrained values:
// Every value that crosses a module boundary is a Value - string, int64,
// bool, array, or object. Floats are forbidden everywhere; they break
// deterministic replay and content-addressed identity. Null exists only for
// JSON round-tripping and is rejected by canonical marshaling.
//
// Content-addressed identity:
// Event records and frame bindings are identified by SHA-256 over RFC 8785
// canonical JSON with a domain-separation prefix. Identical inputs always
// produce identical ids, which is what makes replay comparison and
// firing-level idempotency possible.
//
// Compiled rules:
// A Rule is the load-time form of a when/where/then declaration. Patterns
// hold a mix of literal Values and Vars; the engine never sees rule source
// text, only this IR.
package ir
