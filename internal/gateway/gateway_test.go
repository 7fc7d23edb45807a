package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/internal/engine"
	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
	"github.com/weft-labs/weft/internal/store"
)

// memNotes is a minimal in-memory module for boundary tests: add echoes
// its body back as value, list returns fixed rows.
type memNotes struct{}

func (memNotes) Name() string { return "note" }

func (memNotes) Mutators() map[string]module.MutatorFunc {
	return map[string]module.MutatorFunc{
		"add": func(_ context.Context, input ir.Object) (ir.Object, error) {
			out := ir.Object{"value": input["body"]}
			if corr, ok := input["corr"]; ok {
				out["corr"] = corr
			}
			return out, nil
		},
	}
}

func (memNotes) Queries() map[string]module.QueryFunc {
	return map[string]module.QueryFunc{
		"list": func(_ context.Context, _ ir.Object) ([]ir.Object, error) {
			return []ir.Object{
				{"body": ir.String("first")},
				{"body": ir.String("second")},
			}, nil
		},
	}
}

// routeAndRespondRules wires /note/add through the engine: the request
// fact triggers note.add, whose completion triggers a respond carrying
// the correlation id through the corr argument.
func routeAndRespondRules() []ir.Rule {
	return []ir.Rule{
		{
			ID: "note-add-route",
			When: []ir.EventPattern{{
				Op: OpRequest,
				Input: map[string]ir.Term{
					FieldPath:    ir.L("/note/add"),
					FieldRequest: ir.Var("corr"),
					"body":       ir.Var("b"),
				},
			}},
			Then: []ir.Invoke{{
				Op:   "note.add",
				Args: map[string]ir.Term{"body": ir.Var("b"), "corr": ir.Var("corr")},
			}},
		},
		{
			ID: "note-add-respond",
			When: []ir.EventPattern{{
				Op:     "note.add",
				Input:  map[string]ir.Term{"corr": ir.Var("corr")},
				Output: map[string]ir.Term{"value": ir.Var("v")},
			}},
			Then: []ir.Invoke{{
				Op:   OpRespond,
				Args: map[string]ir.Term{FieldRequest: ir.Var("corr"), "value": ir.Var("v")},
			}},
		},
	}
}

func newTestGateway(t *testing.T, policy *Policy, ruleList []ir.Rule) *Gateway {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	g := New(policy, WithCallTimeout(2*time.Second))
	registry, err := module.NewRegistry(g, memNotes{})
	require.NoError(t, err)

	e := engine.New(st, registry, ruleList, engine.UUIDv7Generator{})
	g.Bind(e)
	return g
}

func TestCallRoutesThroughRules(t *testing.T) {
	g := newTestGateway(t, nil, routeAndRespondRules())

	resp, err := g.Call(context.Background(), "/note/add", ir.Object{"body": ir.String("hello")})
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"value": ir.String("hello")}, resp)
}

func TestCallNoRespond(t *testing.T) {
	// Only the routing rule: the cascade completes but nothing responds.
	g := newTestGateway(t, nil, routeAndRespondRules()[:1])

	_, err := g.Call(context.Background(), "/note/add", ir.Object{"body": ir.String("hello")})
	require.ErrorIs(t, err, ErrNoRespond)
}

func TestCallDenied(t *testing.T) {
	policy := NewPolicy(nil, []string{"/note/add"})
	g := newTestGateway(t, policy, routeAndRespondRules())

	_, err := g.Call(context.Background(), "/note/add", ir.Object{"body": ir.String("x")})
	require.ErrorIs(t, err, ErrDenied)
}

func TestDenyTakesPrecedenceOverPassthrough(t *testing.T) {
	policy := NewPolicy([]string{"/note/list"}, []string{"/note/list"})
	g := newTestGateway(t, policy, nil)

	_, err := g.Call(context.Background(), "/note/list", ir.Object{})
	require.ErrorIs(t, err, ErrDenied)
}

func TestCallPassthroughQuery(t *testing.T) {
	policy := NewPolicy([]string{"/note/list"}, nil)
	g := newTestGateway(t, policy, nil)

	resp, err := g.Call(context.Background(), "/note/list", ir.Object{})
	require.NoError(t, err)
	rows, ok := resp["result"].(ir.Array)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, ir.Object{"body": ir.String("first")}, rows[0])
}

func TestCallPassthroughMutatorIsJournaled(t *testing.T) {
	policy := NewPolicy([]string{"/note/add"}, nil)
	g := newTestGateway(t, policy, nil)

	resp, err := g.Call(context.Background(), "/note/add", ir.Object{"body": ir.String("direct")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("direct"), resp["value"])

	records, err := g.engine.Store().ReadAllEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ir.OpRef("note.add"), records[0].Op)
}

func TestCallPassthroughUnknownOperation(t *testing.T) {
	policy := NewPolicy([]string{"/phantom/op"}, nil)
	g := newTestGateway(t, policy, nil)

	_, err := g.Call(context.Background(), "/phantom/op", ir.Object{})
	var re *engine.RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, engine.ErrCodeUnknownOperation, re.Code)
}

func TestCallRejectsReservedFields(t *testing.T) {
	g := newTestGateway(t, nil, routeAndRespondRules())

	_, err := g.Call(context.Background(), "/note/add", ir.Object{FieldRequest: ir.String("spoof")})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = g.Call(context.Background(), "/note/add", ir.Object{FieldPath: ir.String("/elsewhere")})
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestCallRejectsMalformedPath(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	for _, path := range []string{"/", "/note", "/note/add/extra", "//add"} {
		_, err := g.Call(context.Background(), path, ir.Object{})
		assert.ErrorIs(t, err, ErrBadRequest, "path %q", path)
	}
}

func TestDuplicateRespondDropped(t *testing.T) {
	// Two respond rules fire for the same completion; the rule earlier
	// in evaluation order wins, the other is dropped at the boundary.
	ruleList := routeAndRespondRules()
	second := ruleList[1]
	second.ID = "note-add-respond-late"
	second.Then = []ir.Invoke{{
		Op:   OpRespond,
		Args: map[string]ir.Term{FieldRequest: ir.Var("corr"), "value": ir.L("late")},
	}}
	ruleList = append(ruleList, second)

	g := newTestGateway(t, nil, ruleList)

	resp, err := g.Call(context.Background(), "/note/add", ir.Object{"body": ir.String("hello")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("hello"), resp["value"])
}

func TestRespondOutputIndependentOfDelivery(t *testing.T) {
	input := ir.Object{FieldRequest: ir.String("corr-1"), "value": ir.String("ok")}

	// Live call: a waiter is registered and receives the body.
	withWaiter := newTestGateway(t, nil, nil)
	ch := make(chan ir.Object, 1)
	withWaiter.mu.Lock()
	withWaiter.waiters["corr-1"] = ch
	withWaiter.mu.Unlock()

	live, err := withWaiter.respond(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, ir.Equal(ir.Object{"value": ir.String("ok")}, <-ch))

	// Replay re-dispatches the same respond with nobody waiting. The
	// journaled output must match or the content-addressed id diverges.
	replayed := newTestGateway(t, nil, nil)
	again, err := replayed.respond(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, ir.Equal(live, again), "output must be a pure function of the input")

	// Duplicate respond on the live gateway: dropped, same output.
	dup, err := withWaiter.respond(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, ir.Equal(live, dup))
}

func TestSuccessiveCallsGetDistinctFlows(t *testing.T) {
	g := newTestGateway(t, nil, routeAndRespondRules())

	for _, body := range []string{"one", "two"} {
		resp, err := g.Call(context.Background(), "/note/add", ir.Object{"body": ir.String(body)})
		require.NoError(t, err)
		assert.Equal(t, ir.String(body), resp["value"])
	}

	flows, err := g.engine.Store().ListFlows(context.Background())
	require.NoError(t, err)
	assert.Len(t, flows, 2)
}

func TestHTTPSurface(t *testing.T) {
	policy := NewPolicy([]string{"/note/list"}, []string{"/note/forbidden"})
	g := newTestGateway(t, policy, routeAndRespondRules())

	srv := httptest.NewServer(NewRouter(g))
	defer srv.Close()

	post := func(path string, body any) (*http.Response, map[string]any) {
		t.Helper()
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		defer resp.Body.Close()
		var decoded map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
		return resp, decoded
	}

	t.Run("engine route", func(t *testing.T) {
		resp, body := post("/note/add", map[string]any{"body": "hi"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "hi", body["value"])
	})

	t.Run("passthrough query", func(t *testing.T) {
		resp, body := post("/note/list", map[string]any{})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		rows, ok := body["result"].([]any)
		require.True(t, ok)
		assert.Len(t, rows, 2)
	})

	t.Run("denied path", func(t *testing.T) {
		resp, body := post("/note/forbidden", map[string]any{})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Contains(t, body["error"], "denied")
	})

	t.Run("reserved field", func(t *testing.T) {
		resp, _ := post("/note/add", map[string]any{"request": "spoof"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unmatched request shape", func(t *testing.T) {
		// No rule routes /note/other, so the cascade reaches fixpoint
		// without a respond.
		resp, _ := post("/note/other", map[string]any{})
		assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	})
}

func TestPolicyDecide(t *testing.T) {
	p := NewPolicy([]string{"/a/b"}, []string{"/c/d"})

	assert.Equal(t, RoutePassthrough, p.Decide("/a/b"))
	assert.Equal(t, RouteDenied, p.Decide("/c/d"))
	assert.Equal(t, RouteEngine, p.Decide("/e/f"))

	var nilPolicy *Policy
	assert.Equal(t, RouteEngine, nilPolicy.Decide("/a/b"))
}
