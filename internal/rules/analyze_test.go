package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-labs/weft/internal/gateway"
	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

type fakeModule struct {
	name     string
	mutators []string
	queries  []string
}

func (m fakeModule) Name() string { return m.name }

func (m fakeModule) Mutators() map[string]module.MutatorFunc {
	out := make(map[string]module.MutatorFunc, len(m.mutators))
	for _, op := range m.mutators {
		out[op] = func(ctx context.Context, input ir.Object) (ir.Object, error) {
			return ir.Object{}, nil
		}
	}
	return out
}

func (m fakeModule) Queries() map[string]module.QueryFunc {
	out := make(map[string]module.QueryFunc, len(m.queries))
	for _, op := range m.queries {
		out[op] = func(ctx context.Context, input ir.Object) ([]ir.Object, error) {
			return nil, nil
		}
	}
	return out
}

func testModules(t *testing.T) *module.Registry {
	t.Helper()
	reg, err := module.NewRegistry(
		fakeModule{name: "gateway", mutators: []string{"request", "respond"}},
		fakeModule{name: "note", mutators: []string{"add", "remove"}, queries: []string{"list"}},
		fakeModule{name: "audit", mutators: []string{"log"}},
	)
	require.NoError(t, err)
	return reg
}

func chainRule(id string, whenOp, thenOp ir.OpRef) ir.Rule {
	return ir.Rule{
		ID:   id,
		When: []ir.EventPattern{{Op: whenOp, Input: map[string]ir.Term{"k": ir.Var("k")}}},
		Then: []ir.Invoke{{Op: thenOp, Args: map[string]ir.Term{"k": ir.Var("k")}}},
	}
}

func findCodes(findings []Finding) []string {
	codes := make([]string, len(findings))
	for i, f := range findings {
		codes[i] = f.Code
	}
	return codes
}

func TestAnalyzeCleanRuleSet(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("audit-notes", "note.add", "audit.log"),
	}

	report := Analyze(ruleList, testModules(t))
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestAnalyzeDuplicateID(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("same", "note.add", "audit.log"),
		chainRule("same", "note.remove", "audit.log"),
	}

	report := Analyze(ruleList, testModules(t))
	assert.Contains(t, findCodes(report.Errors), ErrDuplicateRuleID)
}

func TestAnalyzeStructural(t *testing.T) {
	ruleList := []ir.Rule{{
		ID:   "headless",
		When: []ir.EventPattern{{Op: "note.add"}},
		// no then
	}}

	report := Analyze(ruleList, testModules(t))
	assert.Contains(t, findCodes(report.Errors), ErrStructural)
}

func TestAnalyzeUnknownOperation(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("ghost", "note.add", "phantom.op"),
	}

	report := Analyze(ruleList, testModules(t))
	assert.Contains(t, findCodes(report.Errors), ErrUnknownOperation)
}

func TestAnalyzeQueryInThen(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("wrong-kind", "note.add", "note.list"),
	}

	report := Analyze(ruleList, testModules(t))
	assert.Contains(t, findCodes(report.Errors), ErrNotAMutator)
}

func TestAnalyzeMutatorInWhereQuery(t *testing.T) {
	ruleList := []ir.Rule{{
		ID:   "joins-mutator",
		When: []ir.EventPattern{{Op: "note.add", Input: map[string]ir.Term{"k": ir.Var("k")}}},
		Where: []ir.WhereStep{
			ir.QueryStep{
				Op:   "note.remove",
				Args: map[string]ir.Term{"k": ir.Var("k")},
				Bind: map[string]ir.Var{"id": "id"},
			},
		},
		Then: []ir.Invoke{{Op: "audit.log", Args: map[string]ir.Term{"id": ir.Var("id")}}},
	}}

	report := Analyze(ruleList, testModules(t))
	assert.Contains(t, findCodes(report.Errors), ErrNotAQuery)
}

func TestAnalyzeRejectsTriggerCycle(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("forward", "note.add", "note.remove"),
		chainRule("back", "note.remove", "note.add"),
	}

	report := Analyze(ruleList, testModules(t))
	require.Contains(t, findCodes(report.Errors), ErrRuleCycle)

	for _, f := range report.Errors {
		if f.Code == ErrRuleCycle {
			assert.GreaterOrEqual(t, len(f.Path), 2)
		}
	}
}

func TestAnalyzeRejectsSelfLoop(t *testing.T) {
	ruleList := []ir.Rule{
		chainRule("echo", "note.add", "note.add"),
	}

	report := Analyze(ruleList, testModules(t))
	assert.Contains(t, findCodes(report.Errors), ErrRuleCycle)
}

func TestAnalyzeAcceptsDiamond(t *testing.T) {
	// Two rules firing the same downstream op share a target but form
	// no cycle.
	ruleList := []ir.Rule{
		chainRule("left", "note.add", "audit.log"),
		chainRule("right", "note.remove", "audit.log"),
	}

	report := Analyze(ruleList, testModules(t))
	assert.Empty(t, report.Errors)
}

func TestAnalyzeRespondReachability(t *testing.T) {
	reached := []ir.Rule{
		chainRule("route", gateway.OpRequest, "note.add"),
		chainRule("reply", "note.add", gateway.OpRespond),
	}
	report := Analyze(reached, testModules(t))
	assert.Empty(t, report.Warnings)

	orphan := []ir.Rule{
		chainRule("route", gateway.OpRequest, "audit.log"),
	}
	report = Analyze(orphan, testModules(t))
	require.Contains(t, findCodes(report.Warnings), WarnNoRespondPath)
	assert.Empty(t, report.Errors)
}

func TestAnalyzeOverlappingResponds(t *testing.T) {
	// Both variants constrain path with the same literal and both fire a
	// respond: a single call would get two responses.
	mkVariant := func(id string) ir.Rule {
		return ir.Rule{
			ID: id,
			When: []ir.EventPattern{{
				Op: gateway.OpRequest,
				Input: map[string]ir.Term{
					"path":    ir.L("/note/add"),
					"request": ir.Var("corr"),
				},
			}},
			Then: []ir.Invoke{{Op: gateway.OpRespond, Args: map[string]ir.Term{"request": ir.Var("corr")}}},
		}
	}

	report := Analyze([]ir.Rule{mkVariant("first"), mkVariant("second")}, testModules(t))
	assert.Contains(t, findCodes(report.Errors), ErrOverlappingRespond)
}

func TestAnalyzeDisjointLiteralsDoNotOverlap(t *testing.T) {
	mkVariant := func(id, path string) ir.Rule {
		return ir.Rule{
			ID: id,
			When: []ir.EventPattern{{
				Op: gateway.OpRequest,
				Input: map[string]ir.Term{
					"path":    ir.L(path),
					"request": ir.Var("corr"),
				},
			}},
			Then: []ir.Invoke{{Op: gateway.OpRespond, Args: map[string]ir.Term{"request": ir.Var("corr")}}},
		}
	}

	report := Analyze([]ir.Rule{
		mkVariant("add-route", "/note/add"),
		mkVariant("remove-route", "/note/remove"),
	}, testModules(t))
	assert.Empty(t, report.Errors)
}

func TestAnalyzePresenceContradictionSeparatesVariants(t *testing.T) {
	withField := ir.Rule{
		ID: "with-anchor",
		When: []ir.EventPattern{{
			Op: "note.add",
			Input: map[string]ir.Term{
				"anchorId": ir.Var("a"),
				"request":  ir.Var("corr"),
			},
		}},
		Then: []ir.Invoke{{Op: gateway.OpRespond, Args: map[string]ir.Term{"request": ir.Var("corr")}}},
	}
	withoutField := ir.Rule{
		ID: "without-anchor",
		When: []ir.EventPattern{{
			Op:          "note.add",
			Input:       map[string]ir.Term{"request": ir.Var("corr")},
			AbsentInput: []string{"anchorId"},
		}},
		Then: []ir.Invoke{{Op: gateway.OpRespond, Args: map[string]ir.Term{"request": ir.Var("corr")}}},
	}

	report := Analyze([]ir.Rule{withField, withoutField}, testModules(t))
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestAnalyzeVariantGap(t *testing.T) {
	// Only the anchorId-present shape is covered: calls without the
	// field would match nothing.
	onlyPresent := ir.Rule{
		ID: "with-anchor",
		When: []ir.EventPattern{{
			Op: "note.add",
			Input: map[string]ir.Term{
				"anchorId": ir.Var("a"),
				"body":     ir.Var("b"),
			},
		}},
		Then: []ir.Invoke{{Op: "audit.log", Args: map[string]ir.Term{"anchor": ir.Var("a")}}},
	}
	alsoPresent := ir.Rule{
		ID: "with-anchor-audited",
		When: []ir.EventPattern{{
			Op:    "note.add",
			Input: map[string]ir.Term{"body": ir.Var("b")},
		}},
		Then: []ir.Invoke{{Op: "audit.log", Args: map[string]ir.Term{"body": ir.Var("b")}}},
	}
	report := Analyze([]ir.Rule{onlyPresent, alsoPresent}, testModules(t))
	assert.Empty(t, report.Errors)
	// anchorId is required by one variant and unmentioned by the other,
	// so it varies; the absent combination is covered by alsoPresent and
	// the present combination by both, leaving no gap.
	assert.Empty(t, report.Warnings)
}

func TestAnalyzeVariantGapWarns(t *testing.T) {
	// Mutually exclusive variants: one requires anchorId without tagId,
	// the other tagId without anchorId. A call supplying both (or
	// neither) matches nothing.
	anchorOnly := ir.Rule{
		ID: "anchor-only",
		When: []ir.EventPattern{{
			Op:          "note.add",
			Input:       map[string]ir.Term{"anchorId": ir.Var("a")},
			AbsentInput: []string{"tagId"},
		}},
		Then: []ir.Invoke{{Op: "audit.log", Args: map[string]ir.Term{"anchor": ir.Var("a")}}},
	}
	tagOnly := ir.Rule{
		ID: "tag-only",
		When: []ir.EventPattern{{
			Op:          "note.add",
			Input:       map[string]ir.Term{"tagId": ir.Var("t")},
			AbsentInput: []string{"anchorId"},
		}},
		Then: []ir.Invoke{{Op: "audit.log", Args: map[string]ir.Term{"tag": ir.Var("t")}}},
	}

	report := Analyze([]ir.Rule{anchorOnly, tagOnly}, testModules(t))
	assert.Empty(t, report.Errors)
	assert.Contains(t, findCodes(report.Warnings), WarnVariantGap)
}
