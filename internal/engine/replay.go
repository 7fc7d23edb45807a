package engine

import (
	"context"
	"fmt"

	"github.com/weft-labs/weft/internal/store"
)

// Idempotency here is structural, not a special replay mode: the same
// dispatch path handles first execution and re-execution. The firing
// table's unique (event, rule, binding-hash) constraint absorbs
// duplicates, content-addressed ids make equal work collide, and the
// logical clock makes sequence numbers a function of execution order
// alone. Replay is therefore just "dispatch the same calls again" plus a
// comparison.

// Divergence records one position where a replayed flow's journal
// differs from the source journal.
type Divergence struct {
	FlowToken string
	Index     int    // position within the flow's event log
	WantID    string // event id in the source journal ("" = missing)
	GotID     string // event id produced by replay ("" = missing)
}

// ReplayReport summarizes a replay run.
type ReplayReport struct {
	Flows       int
	Events      int
	Divergences []Divergence
}

// Deterministic reports whether replay reproduced the source journal
// exactly.
func (r *ReplayReport) Deterministic() bool {
	return len(r.Divergences) == 0
}

// Replay re-executes every flow's root call from the source journal
// against a fresh engine and compares the journals event by event.
//
// Cascades are serialized by the dispatcher, so a journal never
// interleaves flows: replaying root calls in flow order over a zeroed
// clock reproduces the original sequence numbers, and with them the
// content-addressed event ids. Any divergence means a rule, module, or
// journal changed between runs.
//
// The fresh engine must be constructed over an empty store with the same
// rule set and module wiring as the source run.
func Replay(ctx context.Context, src *store.Store, fresh *Engine) (*ReplayReport, error) {
	flows, err := src.ListFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}

	report := &ReplayReport{Flows: len(flows)}

	for _, flowToken := range flows {
		want, err := src.ReadFlow(ctx, flowToken)
		if err != nil {
			return nil, fmt.Errorf("read flow %s: %w", flowToken, err)
		}
		if len(want) == 0 {
			continue
		}
		report.Events += len(want)

		// The root call is the flow's first record; everything after it
		// was generated by firings and must come back on its own.
		root := want[0]
		got, err := fresh.Dispatch(ctx, flowToken, root.Op, root.Input)
		if err != nil {
			return nil, fmt.Errorf("replay flow %s: %w", flowToken, err)
		}

		for i := 0; i < len(want) || i < len(got); i++ {
			var wantID, gotID string
			if i < len(want) {
				wantID = want[i].ID
			}
			if i < len(got) {
				gotID = got[i].ID
			}
			if wantID != gotID {
				report.Divergences = append(report.Divergences, Divergence{
					FlowToken: flowToken,
					Index:     i,
					WantID:    wantID,
					GotID:     gotID,
				})
			}
		}
	}

	return report, nil
}
