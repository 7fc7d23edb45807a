package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/weft-labs/weft/internal/compiler"
	"github.com/weft-labs/weft/internal/engine"
	"github.com/weft-labs/weft/internal/gateway"
	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
	"github.com/weft-labs/weft/internal/modules"
	"github.com/weft-labs/weft/internal/rules"
	"github.com/weft-labs/weft/internal/store"
)

// World is a fully wired engine: journal, data modules, gateway, and
// validated rule set, all over one SQLite database. Every command that
// needs a live dispatcher builds one of these.
type World struct {
	Store    *store.Store
	Engine   *engine.Engine
	Gateway  *gateway.Gateway
	Modules  *module.Registry
	Rules    *rules.Registry
	Warnings []rules.Finding
}

// Close releases the underlying database.
func (w *World) Close() error {
	return w.Store.Close()
}

// BuildWorld opens the database, loads and validates the rule set, and
// wires the engine behind the gateway. policyPath may be empty, in which
// case every path routes through the rule engine. The journal clock is
// seeded past the highest stored seq so a reopened world keeps
// sequencing monotonically.
func BuildWorld(ctx context.Context, dbPath, rulesDir, policyPath string, flowGen engine.FlowTokenGenerator) (*World, error) {
	ruleList, err := loadRules(rulesDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to compile rules", err)
	}

	var policy *gateway.Policy
	if policyPath != "" {
		p, err := gateway.LoadPolicy(policyPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		policy = p
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	world, err := buildOverStore(ctx, st, ruleList, policy, flowGen)
	if err != nil {
		st.Close()
		return nil, err
	}
	return world, nil
}

// buildOverStore wires modules, gateway, rule registry, and engine over
// an already-open store.
func buildOverStore(ctx context.Context, st *store.Store, ruleList []ir.Rule, policy *gateway.Policy, flowGen engine.FlowTokenGenerator) (*World, error) {
	registry, g, err := buildModules(st, policy)
	if err != nil {
		return nil, err
	}

	ruleReg, warnings, err := rules.NewRegistry(ruleList, registry)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "rule set rejected", err)
	}

	maxSeq, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if flowGen == nil {
		flowGen = engine.UUIDv7Generator{}
	}
	eng := engine.NewWithClock(st, registry, ruleReg.Rules(), flowGen, engine.NewClockAt(maxSeq))
	g.Bind(eng)

	return &World{
		Store:    st,
		Engine:   eng,
		Gateway:  g,
		Modules:  registry,
		Rules:    ruleReg,
		Warnings: warnings,
	}, nil
}

// buildModules constructs the data modules over the store's database and
// indexes them together with the gateway.
func buildModules(st *store.Store, policy *gateway.Policy) (*module.Registry, *gateway.Gateway, error) {
	db := st.DB()

	paper, err := modules.NewPaper(db)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize paper module", err)
	}
	group, err := modules.NewGroup(db)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize group module", err)
	}
	thread, err := modules.NewThread(db)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize thread module", err)
	}
	highlight, err := modules.NewHighlight(db)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize highlight module", err)
	}
	identity, err := modules.NewIdentity(db)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize identity module", err)
	}

	g := gateway.New(policy)
	registry, err := module.NewRegistry(g, paper, group, thread, highlight, identity)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to index modules", err)
	}
	return registry, g, nil
}

// loadRules compiles a rules directory, fail-fast on the first error.
func loadRules(rulesDir string) ([]ir.Rule, error) {
	ruleList, errs := compiler.LoadDir(rulesDir)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile rules: %w", errors.Join(errs...))
	}
	return ruleList, nil
}
