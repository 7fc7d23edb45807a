package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/weft-labs/weft/internal/engine"
	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

// Operation references and reserved request-fact fields.
const (
	OpRequest ir.OpRef = "gateway.request"
	OpRespond ir.OpRef = "gateway.respond"

	FieldPath    = "path"
	FieldRequest = "request"
)

// DefaultCallTimeout bounds one external call end to end.
const DefaultCallTimeout = 10 * time.Second

var (
	// ErrDenied: the passthrough policy rejected the path.
	ErrDenied = errors.New("path denied by policy")

	// ErrNoRespond: the cascade reached fixpoint without any rule
	// invoking gateway.respond for this correlation id. The request
	// shape matched no variant - a rule-set defect, not a runtime one.
	ErrNoRespond = errors.New("no respond reached for correlation id")

	// ErrBadRequest: malformed path or a body using a reserved field.
	ErrBadRequest = errors.New("bad request")
)

// Gateway mediates between external calls and the engine. It is also a
// module: Mutators exposes request and respond so the rule set can
// journal and target them like any other operation.
type Gateway struct {
	engine  *engine.Engine
	policy  *Policy
	timeout time.Duration

	mu        sync.Mutex
	waiters   map[string]chan ir.Object
	responded map[string]bool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// New creates a Gateway with the given policy. The engine is attached
// with Bind after the module registry (which must include this gateway)
// has been constructed.
func New(policy *Policy, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		policy:    policy,
		timeout:   DefaultCallTimeout,
		waiters:   make(map[string]chan ir.Object),
		responded: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bind attaches the engine. Must be called before Call.
func (g *Gateway) Bind(e *engine.Engine) {
	g.engine = e
}

// Name implements module.Module.
func (g *Gateway) Name() string { return "gateway" }

// Mutators implements module.Module.
func (g *Gateway) Mutators() map[string]module.MutatorFunc {
	return map[string]module.MutatorFunc{
		"request": g.request,
		"respond": g.respond,
	}
}

// Queries implements module.Module.
func (g *Gateway) Queries() map[string]module.QueryFunc { return nil }

// request journals the inbound call as a fact. The output mirrors the
// input - path, correlation id, and the body fields - because rules
// match on output bindings.
func (g *Gateway) request(_ context.Context, input ir.Object) (ir.Object, error) {
	if _, ok := input[FieldPath].(ir.String); !ok {
		return nil, fmt.Errorf("gateway.request: %s field is required", FieldPath)
	}
	if _, ok := input[FieldRequest].(ir.String); !ok {
		return nil, fmt.Errorf("gateway.request: %s field is required", FieldRequest)
	}
	out := make(ir.Object, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out, nil
}

// respond delivers a rule chain's result to the blocked caller. The
// first respond per correlation id wins; later ones are logged and
// dropped without failing the cascade.
func (g *Gateway) respond(_ context.Context, input ir.Object) (ir.Object, error) {
	corr, ok := input[FieldRequest].(ir.String)
	if !ok {
		return nil, fmt.Errorf("gateway.respond: %s field is required", FieldRequest)
	}
	id := string(corr)

	body := make(ir.Object, len(input))
	for k, v := range input {
		if k != FieldRequest {
			body[k] = v
		}
	}

	// The journaled output is a pure function of the input: delivery is
	// a side effect at the boundary. Replay re-dispatches responds with
	// no waiter registered, so a delivery flag in the output would
	// change the content-addressed id and diverge every journal.
	out := ir.Object{FieldRequest: corr}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.responded[id] {
		slog.Warn("duplicate respond dropped",
			"correlation_id", id,
		)
		return out, nil
	}
	g.responded[id] = true

	ch, waiting := g.waiters[id]
	if !waiting {
		// Caller disconnected; the cascade still ran to completion and
		// the respond is a no-op at the boundary.
		slog.Info("respond with no waiter",
			"correlation_id", id,
		)
		return out, nil
	}

	ch <- body // buffered, never blocks
	return out, nil
}

// Call executes one external call: policy decision, dispatch, response.
// The returned object is the external response body.
func (g *Gateway) Call(ctx context.Context, path string, body ir.Object) (ir.Object, error) {
	op, err := opForPath(path)
	if err != nil {
		return nil, err
	}

	switch g.policy.Decide(path) {
	case RouteDenied:
		return nil, fmt.Errorf("%w: %s", ErrDenied, path)
	case RoutePassthrough:
		return g.passthrough(ctx, path, op, body)
	default:
		return g.dispatch(ctx, path, body)
	}
}

// passthrough invokes the module operation directly, bypassing the rule
// engine. Mutator calls are still journaled; queries wrap their rows in
// a result field.
func (g *Gateway) passthrough(ctx context.Context, path string, op ir.OpRef, body ir.Object) (ir.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	registry := g.engine.Registry()
	kind, ok := registry.KindOf(op)
	if !ok {
		return nil, engine.NewUnknownOperationError("", "", string(op))
	}

	if kind == module.KindQuery {
		query, _ := registry.Query(op)
		rows, err := query(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("passthrough query %s: %w", op, err)
		}
		arr := make(ir.Array, len(rows))
		for i, row := range rows {
			arr[i] = row
		}
		return ir.Object{"result": arr}, nil
	}

	flow := g.engine.NewFlow()
	rec, err := g.engine.Invoke(ctx, flow, op, body)
	if err != nil {
		return nil, err
	}
	slog.Info("passthrough call",
		"path", path,
		"flow_token", flow,
		"event_id", rec.ID,
	)
	return rec.Output, nil
}

// dispatch routes the call through the rule engine and blocks until a
// respond arrives or the cascade finishes without one.
func (g *Gateway) dispatch(ctx context.Context, path string, body ir.Object) (ir.Object, error) {
	if _, clash := body[FieldPath]; clash {
		return nil, fmt.Errorf("%w: body field %q is reserved", ErrBadRequest, FieldPath)
	}
	if _, clash := body[FieldRequest]; clash {
		return nil, fmt.Errorf("%w: body field %q is reserved", ErrBadRequest, FieldRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	corr := g.engine.NewFlow()

	ch := make(chan ir.Object, 1)
	g.mu.Lock()
	g.waiters[corr] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.waiters, corr)
		delete(g.responded, corr)
		g.mu.Unlock()
		g.engine.CleanupFlow(corr)
	}()

	input := ir.Object{
		FieldPath:    ir.String(path),
		FieldRequest: ir.String(corr),
	}
	for k, v := range body {
		input[k] = v
	}

	slog.Info("request dispatched",
		"path", path,
		"correlation_id", corr,
	)

	if _, err := g.engine.Dispatch(ctx, corr, OpRequest, input); err != nil {
		return nil, err
	}

	// The cascade runs synchronously, so any respond is already in the
	// buffer by the time Dispatch returns.
	select {
	case resp := <-ch:
		return resp, nil
	default:
		slog.Error("request reached fixpoint without respond",
			"path", path,
			"correlation_id", corr,
		)
		return nil, fmt.Errorf("%w (path=%s)", ErrNoRespond, path)
	}
}

// opForPath maps "/{module}/{operation}" to an operation reference.
func opForPath(path string) (ir.OpRef, error) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: path %q is not /{module}/{operation}", ErrBadRequest, path)
	}
	op := ir.OpRef(parts[0] + "." + parts[1])
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return op, nil
}
