package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/internal/ir"
)

func record(op ir.OpRef, input, output ir.Object) *ir.EventRecord {
	return &ir.EventRecord{Op: op, Input: input, Output: output}
}

func TestMatchBindsFreshVariables(t *testing.T) {
	p := ir.EventPattern{
		Op: "paper.ensure",
		Input: map[string]ir.Term{
			"id":    ir.Var("?id"),
			"title": ir.Var("?title"),
		},
	}
	ev := record("paper.ensure",
		ir.Object{"id": ir.String("p1"), "title": ir.String("T")},
		ir.Object{"value": ir.Object{"id": ir.String("p1")}},
	)

	f, ok := Match(p, ev, NewFrame())
	require.True(t, ok)
	val, _ := f.Lookup("?id")
	assert.True(t, ir.Equal(ir.String("p1"), val))
	val, _ = f.Lookup("?title")
	assert.True(t, ir.Equal(ir.String("T"), val))
}

func TestMatchLiteralConstrains(t *testing.T) {
	p := ir.EventPattern{
		Op:    "gateway.request",
		Input: map[string]ir.Term{"path": ir.L("/paper/ensure")},
	}

	_, ok := Match(p, record("gateway.request",
		ir.Object{"path": ir.String("/paper/ensure")}, nil), NewFrame())
	assert.True(t, ok)

	_, ok = Match(p, record("gateway.request",
		ir.Object{"path": ir.String("/paper/remove")}, nil), NewFrame())
	assert.False(t, ok)
}

func TestMatchBoundVariableActsAsEquality(t *testing.T) {
	p := ir.EventPattern{
		Op:    "paper.ensure",
		Input: map[string]ir.Term{"id": ir.Var("?id")},
	}
	ev := record("paper.ensure", ir.Object{"id": ir.String("p1")}, nil)

	_, ok := Match(p, ev, NewFrame().Bind("?id", ir.String("p1")))
	assert.True(t, ok)

	_, ok = Match(p, ev, NewFrame().Bind("?id", ir.String("p2")))
	assert.False(t, ok)
}

func TestMatchRequiresFieldPresence(t *testing.T) {
	// Even a fresh variable demands the field exists on the event.
	p := ir.EventPattern{
		Op:     "paper.ensure",
		Output: map[string]ir.Term{"value": ir.Var("?v")},
	}
	ev := record("paper.ensure", ir.Object{"id": ir.String("p1")},
		ir.Object{"error": ir.String("boom")})

	_, ok := Match(p, ev, NewFrame())
	assert.False(t, ok)
}

func TestMatchAbsentFields(t *testing.T) {
	p := ir.EventPattern{
		Op:           "paper.ensure",
		Output:       map[string]ir.Term{"value": ir.Var("?v")},
		AbsentOutput: []string{"error"},
	}

	_, ok := Match(p, record("paper.ensure", nil,
		ir.Object{"value": ir.String("row")}), NewFrame())
	assert.True(t, ok)

	_, ok = Match(p, record("paper.ensure", nil,
		ir.Object{"value": ir.String("row"), "error": ir.String("boom")}), NewFrame())
	assert.False(t, ok)
}

func TestMatchOpMismatch(t *testing.T) {
	p := ir.EventPattern{Op: "paper.ensure"}
	_, ok := Match(p, record("paper.remove", nil, nil), NewFrame())
	assert.False(t, ok)
}

func TestMatchDoesNotMutateIncomingFrame(t *testing.T) {
	p := ir.EventPattern{
		Op:    "paper.ensure",
		Input: map[string]ir.Term{"id": ir.Var("?id")},
	}
	seed := NewFrame().Bind("?corr", ir.String("c1"))

	_, ok := Match(p, record("paper.ensure", ir.Object{"id": ir.String("p1")}, nil), seed)
	require.True(t, ok)
	_, leaked := seed.Lookup("?id")
	assert.False(t, leaked)
}

func TestMatchAllJoinsOnSharedVariable(t *testing.T) {
	patterns := []ir.EventPattern{
		{Op: "paper.ensure", Input: map[string]ir.Term{"id": ir.Var("?id")}},
		{Op: "highlight.add", Input: map[string]ir.Term{"paper": ir.Var("?id"), "quote": ir.Var("?quote")}},
	}
	log := []*ir.EventRecord{
		record("paper.ensure", ir.Object{"id": ir.String("p1")}, nil),
		record("paper.ensure", ir.Object{"id": ir.String("p2")}, nil),
		record("highlight.add", ir.Object{"paper": ir.String("p1"), "quote": ir.String("q-a")}, nil),
		record("highlight.add", ir.Object{"paper": ir.String("p1"), "quote": ir.String("q-b")}, nil),
	}

	fs := MatchAll(patterns, log, -1, nil, NewFrame())
	require.Len(t, fs, 2)

	// Both joins land on p1; quote order follows log order.
	for i, want := range []string{"q-a", "q-b"} {
		id, _ := fs[i].Lookup("?id")
		assert.True(t, ir.Equal(ir.String("p1"), id))
		quote, _ := fs[i].Lookup("?quote")
		assert.True(t, ir.Equal(ir.String(want), quote))
	}
}

func TestMatchAllPinsRequiredPosition(t *testing.T) {
	patterns := []ir.EventPattern{
		{Op: "paper.ensure", Input: map[string]ir.Term{"id": ir.Var("?id")}},
	}
	log := []*ir.EventRecord{
		record("paper.ensure", ir.Object{"id": ir.String("p1")}, nil),
		record("paper.ensure", ir.Object{"id": ir.String("p2")}, nil),
	}

	// Pinned to the second event: the first must not contribute a frame.
	fs := MatchAll(patterns, log, 0, log[1], NewFrame())
	require.Len(t, fs, 1)
	id, _ := fs[0].Lookup("?id")
	assert.True(t, ir.Equal(ir.String("p2"), id))
}
