package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weft-labs/weft/internal/compiler"
	"github.com/weft-labs/weft/internal/engine"
	"github.com/weft-labs/weft/internal/gateway"
	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
	"github.com/weft-labs/weft/internal/modules"
	"github.com/weft-labs/weft/internal/rules"
	"github.com/weft-labs/weft/internal/store"
)

// Run executes a scenario against a fresh in-memory world and returns
// the result. The world is built the same way the server builds one -
// journal, data modules, gateway, compiled rules - except that the
// store lives in memory and flow tokens come from a fixed generator so
// the journal is deterministic.
//
// Run returns an error only when the world cannot be built or the
// journal cannot be read back. Expectation and assertion failures are
// reported on the Result, not as errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	world, err := buildWorld(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer world.store.Close()

	result := NewResult(scenario.Name)

	for i, step := range scenario.Calls {
		body, err := callBody(step.Body)
		if err != nil {
			return nil, fmt.Errorf("calls[%d]: %w", i, err)
		}

		resp, callErr := world.gateway.Call(ctx, step.Path, body)
		checkExpect(result, i, &step, resp, callErr)

		if resp != nil {
			result.Responses = append(result.Responses, ir.ToGo(resp).(map[string]any))
		} else {
			result.Responses = append(result.Responses, nil)
		}
	}

	events, err := world.store.ReadAllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	for _, ev := range events {
		result.Trace = append(result.Trace, TraceEvent{
			Op:    string(ev.Op),
			Seq:   ev.Seq,
			Error: ev.IsError(),
		})
	}

	for _, msg := range checkAssertions(events, scenario.Assertions) {
		result.AddError("%s", msg)
	}

	return result, nil
}

// world is the scenario-scoped wiring: an in-memory store with the
// gateway bound to a live engine over it.
type world struct {
	store   *store.Store
	gateway *gateway.Gateway
}

func buildWorld(ctx context.Context, scenario *Scenario) (*world, error) {
	ruleList, errs := compiler.LoadDir(scenario.Rules)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile rules: %w", errors.Join(errs...))
	}

	var policy *gateway.Policy
	if scenario.Policy != "" {
		p, err := gateway.LoadPolicy(scenario.Policy)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		policy = p
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	g, registry, err := buildModules(st, policy)
	if err != nil {
		st.Close()
		return nil, err
	}

	ruleReg, _, err := rules.NewRegistry(ruleList, registry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("rule set rejected: %w", err)
	}

	tokens := scenario.FlowTokens
	if len(tokens) == 0 {
		for i := range scenario.Calls {
			tokens = append(tokens, fmt.Sprintf("flow-%03d", i+1))
		}
	}

	eng := engine.New(st, registry, ruleReg.Rules(), engine.NewFixedGenerator(tokens...))
	g.Bind(eng)

	return &world{store: st, gateway: g}, nil
}

// buildModules constructs the data modules over the store's database
// and indexes them together with the gateway.
func buildModules(st *store.Store, policy *gateway.Policy) (*gateway.Gateway, *module.Registry, error) {
	db := st.DB()

	paper, err := modules.NewPaper(db)
	if err != nil {
		return nil, nil, err
	}
	group, err := modules.NewGroup(db)
	if err != nil {
		return nil, nil, err
	}
	thread, err := modules.NewThread(db)
	if err != nil {
		return nil, nil, err
	}
	highlight, err := modules.NewHighlight(db)
	if err != nil {
		return nil, nil, err
	}
	identity, err := modules.NewIdentity(db)
	if err != nil {
		return nil, nil, err
	}

	g := gateway.New(policy)
	registry, err := module.NewRegistry(g, paper, group, thread, highlight, identity)
	if err != nil {
		return nil, nil, err
	}
	return g, registry, nil
}

// callBody converts a YAML body to a journal object.
func callBody(body map[string]interface{}) (ir.Object, error) {
	v, err := ir.FromGo(body)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("body must be an object")
	}
	return obj, nil
}

// checkExpect validates one call's outcome against its expect clause.
func checkExpect(result *Result, index int, step *CallStep, resp ir.Object, callErr error) {
	if step.Expect != nil && step.Expect.Error != "" {
		if callErr == nil {
			result.AddError("calls[%d] %s: expected error containing %q, call succeeded",
				index, step.Path, step.Expect.Error)
		} else if !strings.Contains(callErr.Error(), step.Expect.Error) {
			result.AddError("calls[%d] %s: expected error containing %q, got %q",
				index, step.Path, step.Expect.Error, callErr.Error())
		}
		return
	}

	if callErr != nil {
		result.AddError("calls[%d] %s: unexpected error: %v", index, step.Path, callErr)
		return
	}

	if step.Expect == nil || step.Expect.Body == nil {
		return
	}
	expected, err := ir.FromGo(step.Expect.Body)
	if err != nil {
		result.AddError("calls[%d] %s: bad expect body: %v", index, step.Path, err)
		return
	}
	if msg := subsetMatch(expected.(ir.Object), resp); msg != "" {
		result.AddError("calls[%d] %s: response mismatch: %s", index, step.Path, msg)
	}
}
