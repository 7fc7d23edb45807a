package frames

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/internal/ir"
)

// tableQuery returns rows keyed by the "paper" input field.
func tableQuery(rows map[string][]ir.Object) QueryFunc {
	return func(_ context.Context, input ir.Object) ([]ir.Object, error) {
		key, _ := input["paper"].(ir.String)
		return rows[string(key)], nil
	}
}

func TestQueryFansOutPerRow(t *testing.T) {
	q := tableQuery(map[string][]ir.Object{
		"p1": {
			{"quote": ir.String("q-a")},
			{"quote": ir.String("q-b")},
		},
	})
	fs := Singleton(NewFrame().Bind("?paper", ir.String("p1")))

	out, err := Query(context.Background(), fs, q,
		map[string]ir.Term{"paper": ir.Var("?paper")},
		map[string]ir.Var{"quote": "?quote"}, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	for i, want := range []string{"q-a", "q-b"} {
		quote, _ := out[i].Lookup("?quote")
		assert.True(t, ir.Equal(ir.String(want), quote))
		paper, _ := out[i].Lookup("?paper")
		assert.True(t, ir.Equal(ir.String("p1"), paper), "input bindings survive the join")
	}
}

func TestQueryDropsFrameOnZeroRows(t *testing.T) {
	q := tableQuery(nil)
	fs := Singleton(NewFrame().Bind("?paper", ir.String("p1")))

	out, err := Query(context.Background(), fs, q,
		map[string]ir.Term{"paper": ir.Var("?paper")},
		map[string]ir.Var{"quote": "?quote"}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestQueryFallbackKeepsFrameOnZeroRows(t *testing.T) {
	q := tableQuery(nil)
	fs := Singleton(NewFrame().Bind("?paper", ir.String("p1")))

	out, err := Query(context.Background(), fs, q,
		map[string]ir.Term{"paper": ir.Var("?paper")},
		map[string]ir.Var{"user": "?user"},
		map[ir.Var]ir.Value{"?user": ir.String("")})
	require.NoError(t, err)
	require.Len(t, out, 1)

	user, _ := out[0].Lookup("?user")
	assert.True(t, ir.Equal(ir.String(""), user))
}

func TestQueryRebindingIsAnEqualityConstraint(t *testing.T) {
	q := tableQuery(map[string][]ir.Object{
		"p1": {
			{"owner": ir.String("ada")},
			{"owner": ir.String("grace")},
		},
	})
	// ?owner is pre-bound, so only the matching row survives.
	fs := Singleton(NewFrame().
		Bind("?paper", ir.String("p1")).
		Bind("?owner", ir.String("grace")))

	out, err := Query(context.Background(), fs, q,
		map[string]ir.Term{"paper": ir.Var("?paper")},
		map[string]ir.Var{"owner": "?owner"}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	owner, _ := out[0].Lookup("?owner")
	assert.True(t, ir.Equal(ir.String("grace"), owner))
}

func TestQueryMissingBoundFieldFails(t *testing.T) {
	q := tableQuery(map[string][]ir.Object{
		"p1": {{"quote": ir.String("q-a")}},
	})
	fs := Singleton(NewFrame().Bind("?paper", ir.String("p1")))

	_, err := Query(context.Background(), fs, q,
		map[string]ir.Term{"paper": ir.Var("?paper")},
		map[string]ir.Var{"anchor": "?anchor"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing bound field "anchor"`)
}

func TestQueryInfrastructureErrorAborts(t *testing.T) {
	broken := func(context.Context, ir.Object) ([]ir.Object, error) {
		return nil, errors.New("database is on fire")
	}
	fs := Singleton(NewFrame().Bind("?paper", ir.String("p1")))

	_, err := Query(context.Background(), fs, broken,
		map[string]ir.Term{"paper": ir.Var("?paper")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is on fire")
}

func TestQueryUnresolvableArgsFail(t *testing.T) {
	q := tableQuery(nil)
	fs := Singleton(NewFrame())

	_, err := Query(context.Background(), fs, q,
		map[string]ir.Term{"paper": ir.Var("?paper")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve query args")
}
