package frames

import (
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
)

// Filter returns the sub-sequence of frames satisfying the predicate,
// order preserved.
func Filter(fs FrameSet, pred ir.Predicate) (FrameSet, error) {
	var out FrameSet
	for i, f := range fs {
		ok, err := Eval(pred, f)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// Eval evaluates a predicate over one frame's bindings.
// Referencing an unbound variable is an authoring error, not a non-match.
func Eval(pred ir.Predicate, f Frame) (bool, error) {
	switch p := pred.(type) {
	case ir.Cmp:
		left, err := f.Resolve(p.Left)
		if err != nil {
			return false, err
		}
		right, err := f.Resolve(p.Right)
		if err != nil {
			return false, err
		}
		switch p.Op {
		case ir.CmpEq:
			return ir.Equal(left, right), nil
		case ir.CmpNe:
			return !ir.Equal(left, right), nil
		default:
			return false, fmt.Errorf("unknown comparison operator %q", p.Op)
		}
	case ir.And:
		for _, sub := range p.Preds {
			ok, err := Eval(sub, f)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ir.Not:
		ok, err := Eval(p.Pred, f)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("unknown predicate type %T", pred)
	}
}
