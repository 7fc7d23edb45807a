// Package frames implements the variable-binding machinery the dispatcher
// matches rules with: frames (one consistent assignment of variables to
// values), ordered frame sets (relational-style multiplicity), pattern
// unification against event records, query joins, filtering, and
// aggregation.
//
// A frame set of length zero means "no match", one means a single match,
// and N means fan-out. Order is significant and preserved by every
// operator: it is the order joins produced the frames, and it is what
// makes aggregation deterministic.
package frames

import (
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
)

// Frame is one consistent variable assignment. Frames are treated as
// immutable: Bind returns an extended copy, never mutates in place.
// Two frames are distinct matches and are never merged implicitly.
type Frame map[ir.Var]ir.Value

// NewFrame returns an empty frame.
func NewFrame() Frame {
	return Frame{}
}

// Lookup returns the value bound to v, if any.
func (f Frame) Lookup(v ir.Var) (ir.Value, bool) {
	val, ok := f[v]
	return val, ok
}

// Bind returns a copy of the frame extended with v = val.
// The receiver is not modified.
func (f Frame) Bind(v ir.Var, val ir.Value) Frame {
	next := make(Frame, len(f)+1)
	for k, existing := range f {
		next[k] = existing
	}
	next[v] = val
	return next
}

// Bindings converts the frame to an ir.Object keyed by variable name.
// Used for binding hashes and trace output.
func (f Frame) Bindings() ir.Object {
	obj := make(ir.Object, len(f))
	for v, val := range f {
		obj[string(v)] = val
	}
	return obj
}

// Resolve evaluates a pattern Term under the frame: literals pass
// through, variables must be bound.
func (f Frame) Resolve(t ir.Term) (ir.Value, error) {
	switch term := t.(type) {
	case ir.Lit:
		return term.Value, nil
	case ir.Var:
		val, ok := f[term]
		if !ok {
			return nil, fmt.Errorf("variable %q is not bound", term)
		}
		return val, nil
	default:
		return nil, fmt.Errorf("unknown term type %T", t)
	}
}

// ResolveArgs resolves an argument template into a concrete Object.
// All-or-nothing: any unbound variable fails the whole resolution.
func (f Frame) ResolveArgs(args map[string]ir.Term) (ir.Object, error) {
	resolved := make(ir.Object, len(args))
	for name, t := range args {
		val, err := f.Resolve(t)
		if err != nil {
			return nil, fmt.Errorf("arg %q: %w", name, err)
		}
		resolved[name] = val
	}
	return resolved, nil
}

// FrameSet is an ordered multiset of frames. Order is meaningful and
// every operator in this package preserves it.
type FrameSet []Frame

// Singleton returns a frame set holding exactly one frame.
func Singleton(f Frame) FrameSet {
	return FrameSet{f}
}
