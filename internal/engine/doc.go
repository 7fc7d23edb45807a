// Package engine implements the weft rule dispatcher.
//
// The dispatcher executes module operations, journals the resulting event
// records, and evaluates declarative rules to fixpoint: every recorded
// event is matched against the rule set, and each firing enqueues further
// invocations until no rule produces a new firing. One external call runs
// its entire cascade synchronously before returning.
//
// Determinism model:
//
// All sequencing comes from a monotonic logical clock (Clock.Next), never
// wall time. Rules are evaluated in declaration order, joins enumerate the
// flow log in journal order, and firing identity is the content-addressed
// (event, rule, binding-hash) triple. Re-processing a journal therefore
// reproduces the exact same firings: duplicates are absorbed by the
// store's unique constraint, not by a special replay mode.
//
// Termination is enforced twice over: a per-flow cycle detector refuses to
// fire the same (rule, binding) pair a second time within one flow, and a
// per-flow step quota caps the total number of invocations a cascade may
// execute. Static cycle analysis at load time catches most loops before
// the dispatcher ever sees them; the runtime guards cover what data-
// dependent firing patterns slip past it.
package engine
