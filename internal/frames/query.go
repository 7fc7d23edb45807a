package frames

import (
	"context"
	"fmt"

	"github.com/weft-labs/weft/internal/ir"
)

// QueryFunc is the read-only query contract the join operator calls.
// Queries are total over their domain: an empty slice denotes "no match",
// never an error. A returned error signals infrastructure failure (a
// broken store, a cancelled context) and aborts the whole refinement.
type QueryFunc func(ctx context.Context, input ir.Object) ([]ir.Object, error)

// Query extends a frame set by a relational join against a module query.
//
// For each frame, args is resolved into concrete query input, the query
// invoked, and one output frame produced per result row by binding each
// row field named in bind. A frame whose query yields zero rows
// contributes zero output frames unless fallback is non-nil, in which
// case the frame survives once with the fallback bindings applied.
//
// Output order: input frame order, then row order within each frame.
func Query(ctx context.Context, fs FrameSet, q QueryFunc, args map[string]ir.Term, bind map[string]ir.Var, fallback map[ir.Var]ir.Value) (FrameSet, error) {
	var out FrameSet

	for _, f := range fs {
		input, err := f.ResolveArgs(args)
		if err != nil {
			return nil, fmt.Errorf("resolve query args: %w", err)
		}

		rows, err := q(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		if len(rows) == 0 {
			if fallback == nil {
				// Frame silently dropped. Callers on a response path
				// should supply a fallback instead.
				continue
			}
			next := f
			for v, val := range fallback {
				next = next.Bind(v, val)
			}
			out = append(out, next)
			continue
		}

		for _, row := range rows {
			next := f
			consistent := true
			for field, v := range bind {
				val, exists := row[field]
				if !exists {
					return nil, fmt.Errorf("query row missing bound field %q", field)
				}
				if prior, isBound := next[v]; isBound {
					// Re-binding an already-bound variable acts as an
					// equality constraint, same as in pattern matching.
					if !ir.Equal(prior, val) {
						consistent = false
						break
					}
					continue
				}
				next = next.Bind(v, val)
			}
			if consistent {
				out = append(out, next)
			}
		}
	}

	return out, nil
}
