package frames

import (
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
)

// CollectAs collapses a frame set into exactly one summary frame: the
// from variable's value is gathered from every frame, in frame-set
// order, into a single array bound to into. All other bindings are
// discarded except keep, which survive from the first frame (the
// correlation id travels this way).
//
// An empty input frame set still yields one summary frame with an empty
// array, so a response assembled over zero rows is still a response.
// The keep bindings then come from seed, the when-join frame the
// pipeline started from, because no input frame is left to carry them.
func CollectAs(fs FrameSet, seed Frame, from, into ir.Var, keep ...ir.Var) (FrameSet, error) {
	values := make(ir.Array, 0, len(fs))
	for i, f := range fs {
		val, ok := f[from]
		if !ok {
			return nil, fmt.Errorf("frame %d: variable %q is not bound", i, from)
		}
		values = append(values, val)
	}

	src := seed
	if len(fs) > 0 {
		src = fs[0]
	}
	summary := NewFrame().Bind(into, values)
	for _, v := range keep {
		if val, ok := src[v]; ok {
			summary = summary.Bind(v, val)
		}
	}

	return Singleton(summary), nil
}
