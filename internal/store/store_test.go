package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/internal/ir"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testEvent(flowToken string, op ir.OpRef, input ir.Object, seq int64) ir.EventRecord {
	output := ir.Object{"value": ir.String("row")}
	return ir.EventRecord{
		ID:        ir.MustEventID(flowToken, op, input, output, seq),
		FlowToken: flowToken,
		Op:        op,
		Input:     input,
		Output:    output,
		Seq:       seq,
	}
}

func TestWriteAndReadFlow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	events := []ir.EventRecord{
		testEvent("flow-001", "gateway.request", ir.Object{"path": ir.String("/paper/ensure")}, 1),
		testEvent("flow-001", "paper.ensure", ir.Object{"id": ir.String("p1")}, 3),
		testEvent("flow-002", "gateway.request", ir.Object{"path": ir.String("/paper/view")}, 6),
	}
	for _, ev := range events {
		require.NoError(t, st.WriteEvent(ctx, ev))
	}

	got, err := st.ReadFlow(ctx, "flow-001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events[0].ID, got[0].ID)
	assert.Equal(t, ir.OpRef("paper.ensure"), got[1].Op)
	assert.True(t, ir.Equal(ir.Object{"id": ir.String("p1")}, got[1].Input))
	assert.Equal(t, int64(3), got[1].Seq)
}

func TestReadFlowEmptyIsNotNil(t *testing.T) {
	st := openTestStore(t)

	got, err := st.ReadFlow(context.Background(), "no-such-flow")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWriteEventIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("flow-001", "paper.ensure", ir.Object{"id": ir.String("p1")}, 1)
	require.NoError(t, st.WriteEvent(ctx, ev))
	require.NoError(t, st.WriteEvent(ctx, ev))

	got, err := st.ReadAllEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReadEvent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("flow-001", "paper.ensure", ir.Object{"id": ir.String("p1")}, 1)
	require.NoError(t, st.WriteEvent(ctx, ev))

	got, err := st.ReadEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.FlowToken, got.FlowToken)
	assert.True(t, ir.Equal(ev.Output, got.Output))

	_, err = st.ReadEvent(ctx, "deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteFiringClaimsSlotOnce(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("flow-001", "paper.ensure", ir.Object{"id": ir.String("p1")}, 1)
	require.NoError(t, st.WriteEvent(ctx, ev))

	firing := Firing{
		EventID:     ev.ID,
		RuleID:      "paper-ensure-ok",
		BindingHash: ir.MustBindingHash(ir.Object{"?corr": ir.String("c1")}),
		Seq:         2,
	}

	id1, inserted, err := st.WriteFiring(ctx, firing)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same slot again: not inserted, same row id back.
	id2, inserted, err := st.WriteFiring(ctx, firing)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id1, id2)

	// Different binding is a different firing.
	firing.BindingHash = ir.MustBindingHash(ir.Object{"?corr": ir.String("c2")})
	firing.Seq = 4
	_, inserted, err = st.WriteFiring(ctx, firing)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestReadFlowFirings(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ev := testEvent("flow-001", "paper.ensure", ir.Object{"id": ir.String("p1")}, 1)
	require.NoError(t, st.WriteEvent(ctx, ev))

	for i, ruleID := range []string{"paper-ensure-ok", "paper-remove-cascade-highlights"} {
		_, inserted, err := st.WriteFiring(ctx, Firing{
			EventID:     ev.ID,
			RuleID:      ruleID,
			BindingHash: ir.MustBindingHash(ir.Object{"?n": ir.Int(int64(i))}),
			Seq:         int64(2 + i),
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	firings, err := st.ReadFlowFirings(ctx, "flow-001")
	require.NoError(t, err)
	require.Len(t, firings, 2)
	assert.Equal(t, "paper-ensure-ok", firings[0].RuleID)
	assert.Equal(t, "paper-remove-cascade-highlights", firings[1].RuleID)

	none, err := st.ReadFlowFirings(ctx, "other-flow")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestProvenanceEdgeIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	trigger := testEvent("flow-001", "paper.remove", ir.Object{"id": ir.String("p1")}, 1)
	produced := testEvent("flow-001", "highlight.remove", ir.Object{"id": ir.String("h1")}, 3)
	require.NoError(t, st.WriteEvent(ctx, trigger))
	require.NoError(t, st.WriteEvent(ctx, produced))

	firingID, _, err := st.WriteFiring(ctx, Firing{
		EventID:     trigger.ID,
		RuleID:      "paper-remove-cascade-highlights",
		BindingHash: ir.MustBindingHash(ir.Object{"?highlight": ir.String("h1")}),
		Seq:         2,
	})
	require.NoError(t, err)

	require.NoError(t, st.WriteProvenanceEdge(ctx, firingID, produced.ID))
	require.NoError(t, st.WriteProvenanceEdge(ctx, firingID, produced.ID))

	rows, err := st.Query(ctx, `SELECT COUNT(*) FROM provenance_edges`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var count int
	require.NoError(t, rows.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestListFlowsOrderedByFirstSeq(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// flow-b starts earlier than flow-a despite the token sort order.
	require.NoError(t, st.WriteEvent(ctx, testEvent("flow-b", "paper.ensure", ir.Object{"id": ir.String("p1")}, 1)))
	require.NoError(t, st.WriteEvent(ctx, testEvent("flow-a", "paper.ensure", ir.Object{"id": ir.String("p2")}, 5)))
	require.NoError(t, st.WriteEvent(ctx, testEvent("flow-b", "paper.remove", ir.Object{"id": ir.String("p1")}, 8)))

	flows, err := st.ListFlows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"flow-b", "flow-a"}, flows)
}

func TestMaxSeq(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seq, err := st.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq, "empty journal")

	require.NoError(t, st.WriteEvent(ctx, testEvent("flow-001", "paper.ensure", ir.Object{"id": ir.String("p1")}, 7)))
	require.NoError(t, st.WriteEvent(ctx, testEvent("flow-001", "paper.remove", ir.Object{"id": ir.String("p1")}, 3)))

	seq, err = st.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}

func TestOpenIsIdempotentOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	st, err := Open(path)
	require.NoError(t, err)
	ev := testEvent("flow-001", "paper.ensure", ir.Object{"id": ir.String("p1")}, 1)
	require.NoError(t, st.WriteEvent(ctx, ev))
	require.NoError(t, st.Close())

	// Reopening applies the schema again and keeps existing rows.
	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.ReadAllEvents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
}
