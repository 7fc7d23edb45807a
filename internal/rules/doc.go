// Package rules holds the load-time rule registry and its static
// analysis.
//
// Rules are compiled from CUE (internal/compiler), validated and
// analyzed here once at startup, and handed to the engine as an
// immutable slice in evaluation order. Nothing mutates the registry
// after construction.
//
// The analysis is where most rule-authoring mistakes die before the
// dispatcher ever runs: references to unregistered operations, then
// clauses targeting queries, rule graphs with cycles, respond variants
// that can overlap on the same request, and optional-field variant
// families that leave a presence combination unmatched.
package rules
