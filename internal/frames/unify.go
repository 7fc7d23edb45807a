package frames

import (
	"github.com/weft-labs/weft/internal/ir"
)

// Match unifies one event pattern against one event record under an
// incoming frame. On success it returns the extended frame; the incoming
// frame is never mutated.
//
// Per-field semantics:
//   - literal pattern value: the event field must exist and be
//     structurally equal
//   - bound variable: the event field must exist and equal the binding
//   - fresh variable: the event field must exist; it is bound
//   - field listed in AbsentInput/AbsentOutput: the field must NOT exist
//   - field not mentioned at all: no constraint
//
// A field present in the pattern always requires presence on the event,
// even when it binds a fresh variable. This is what forces one rule
// variant per optional-field presence combination.
func Match(p ir.EventPattern, ev *ir.EventRecord, f Frame) (Frame, bool) {
	if p.Op != ev.Op {
		return nil, false
	}

	for _, field := range p.AbsentInput {
		if _, exists := ev.Input[field]; exists {
			return nil, false
		}
	}
	for _, field := range p.AbsentOutput {
		if _, exists := ev.Output[field]; exists {
			return nil, false
		}
	}

	out := f
	var ok bool
	if out, ok = matchFields(p.Input, ev.Input, out); !ok {
		return nil, false
	}
	if out, ok = matchFields(p.Output, ev.Output, out); !ok {
		return nil, false
	}
	return out, true
}

// matchFields unifies one side (input or output) of a pattern.
func matchFields(pattern map[string]ir.Term, fields ir.Object, f Frame) (Frame, bool) {
	for name, t := range pattern {
		val, exists := fields[name]
		if !exists {
			return nil, false
		}

		switch term := t.(type) {
		case ir.Lit:
			if !ir.Equal(term.Value, val) {
				return nil, false
			}
		case ir.Var:
			if bound, isBound := f[term]; isBound {
				if !ir.Equal(bound, val) {
					return nil, false
				}
			} else {
				f = f.Bind(term, val)
			}
		default:
			return nil, false
		}
	}
	return f, true
}

// MatchAll runs a multi-way join: every pattern must unify against some
// event in the log with one shared consistent frame. The log is scanned
// in order and the result enumerates all consistent assignments, in
// lexicographic order of event positions - deterministic given a
// deterministic log.
//
// requireIdx/requireEvent pin one pattern position to a specific event
// (the newly completed record that triggered evaluation); pass -1 to
// leave all positions free.
func MatchAll(patterns []ir.EventPattern, log []*ir.EventRecord, requireIdx int, requireEvent *ir.EventRecord, seed Frame) FrameSet {
	var out FrameSet
	matchRest(patterns, 0, log, requireIdx, requireEvent, seed, &out)
	return out
}

func matchRest(patterns []ir.EventPattern, idx int, log []*ir.EventRecord, requireIdx int, requireEvent *ir.EventRecord, f Frame, out *FrameSet) {
	if idx == len(patterns) {
		*out = append(*out, f)
		return
	}

	if idx == requireIdx {
		if next, ok := Match(patterns[idx], requireEvent, f); ok {
			matchRest(patterns, idx+1, log, requireIdx, requireEvent, next, out)
		}
		return
	}

	for _, ev := range log {
		if next, ok := Match(patterns[idx], ev, f); ok {
			matchRest(patterns, idx+1, log, requireIdx, requireEvent, next, out)
		}
	}
}
