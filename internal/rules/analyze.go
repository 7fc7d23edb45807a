package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weft-labs/weft/internal/gateway"
	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

// Analysis finding codes (E200-E299).
const (
	ErrDuplicateRuleID    = "E201" // rule id used more than once
	ErrStructural         = "E202" // rule fails structural validation
	ErrUnknownOperation   = "E203" // referenced operation not registered
	ErrNotAMutator        = "E204" // when/then references a query operation
	ErrNotAQuery          = "E205" // where query step references a mutator
	ErrRuleCycle          = "E206" // rule trigger graph contains a cycle
	WarnNoRespondPath     = "E207" // request variant cannot reach a respond
	ErrOverlappingRespond = "E208" // two respond variants match the same event
	WarnVariantGap        = "E209" // optional-field combination matches no variant
)

// Finding is one analysis result, error or warning.
type Finding struct {
	Code    string   `json:"code"`
	RuleID  string   `json:"rule_id,omitempty"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"` // cycle path for E206
}

// Error renders the finding in the loader's diagnostic format.
func (f Finding) Error() string {
	if f.RuleID != "" {
		return fmt.Sprintf("[%s] rule %s: %s", f.Code, f.RuleID, f.Message)
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

// Report splits findings by severity. Errors block registration;
// warnings are advisory and logged by the loader.
type Report struct {
	Errors   []Finding
	Warnings []Finding
}

// Analyze runs the full static rule-set analysis:
//
//   - structural validation and id uniqueness
//   - operation resolution: when and then must name mutators, where
//     query steps must name queries
//   - cycle rejection over the rule trigger graph (a then that can
//     re-trigger a when reachable from itself is a load-time error; the
//     runtime cycle detector is a backstop, not the policy)
//   - respond reachability for every request-triggered rule
//   - overlap and gap analysis over optional-field variant families
//
// All findings are collected; analysis never fails fast.
func Analyze(ruleList []ir.Rule, modules *module.Registry) *Report {
	report := &Report{}

	seen := make(map[string]bool, len(ruleList))
	for i := range ruleList {
		r := &ruleList[i]
		if seen[r.ID] {
			report.Errors = append(report.Errors, Finding{
				Code:    ErrDuplicateRuleID,
				RuleID:  r.ID,
				Message: "duplicate rule id",
			})
		}
		seen[r.ID] = true

		if err := r.Validate(); err != nil {
			report.Errors = append(report.Errors, Finding{
				Code:    ErrStructural,
				RuleID:  r.ID,
				Message: err.Error(),
			})
			continue
		}

		checkOps(r, modules, report)
	}

	checkCycles(ruleList, report)
	checkRespondReachability(ruleList, report)
	checkVariants(ruleList, report)

	return report
}

// checkOps resolves every operation reference in one rule against the
// module registry.
func checkOps(r *ir.Rule, modules *module.Registry, report *Report) {
	requireMutator := func(op ir.OpRef, where string) {
		kind, ok := modules.KindOf(op)
		switch {
		case !ok:
			report.Errors = append(report.Errors, Finding{
				Code:    ErrUnknownOperation,
				RuleID:  r.ID,
				Message: fmt.Sprintf("%s references unregistered operation %q", where, op),
			})
		case kind != module.KindMutator:
			report.Errors = append(report.Errors, Finding{
				Code:    ErrNotAMutator,
				RuleID:  r.ID,
				Message: fmt.Sprintf("%s references query %q; only mutator events are journaled and dispatchable", where, op),
			})
		}
	}

	for i, p := range r.When {
		requireMutator(p.Op, fmt.Sprintf("when[%d]", i))
	}
	for i, inv := range r.Then {
		requireMutator(inv.Op, fmt.Sprintf("then[%d]", i))
	}
	for i, step := range r.Where {
		q, ok := step.(ir.QueryStep)
		if !ok {
			continue
		}
		kind, known := modules.KindOf(q.Op)
		switch {
		case !known:
			report.Errors = append(report.Errors, Finding{
				Code:    ErrUnknownOperation,
				RuleID:  r.ID,
				Message: fmt.Sprintf("where[%d] references unregistered operation %q", i, q.Op),
			})
		case kind != module.KindQuery:
			report.Errors = append(report.Errors, Finding{
				Code:    ErrNotAQuery,
				RuleID:  r.ID,
				Message: fmt.Sprintf("where[%d] joins against mutator %q; where steps may only call queries", i, q.Op),
			})
		}
	}
}

// triggerGraph maps rule id -> rule ids its then-clause can trigger.
type triggerGraph map[string][]string

func buildTriggerGraph(ruleList []ir.Rule) triggerGraph {
	byWhenOp := make(map[ir.OpRef][]string)
	for _, r := range ruleList {
		for _, p := range r.When {
			byWhenOp[p.Op] = append(byWhenOp[p.Op], r.ID)
		}
	}

	graph := make(triggerGraph, len(ruleList))
	for _, r := range ruleList {
		graph[r.ID] = []string{}
		for _, inv := range r.Then {
			graph[r.ID] = append(graph[r.ID], byWhenOp[inv.Op]...)
		}
	}
	return graph
}

// checkCycles rejects any strongly connected component in the trigger
// graph, self-loops included. A cycle that only closes for particular
// data still journals the same trigger shape, and the runtime detector
// would silently suppress firings mid-flow; refusing the rule set up
// front is the honest failure.
func checkCycles(ruleList []ir.Rule, report *Report) {
	if len(ruleList) == 0 {
		return
	}
	graph := buildTriggerGraph(ruleList)

	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		path := cyclePath(scc, graph)
		report.Errors = append(report.Errors, Finding{
			Code:    ErrRuleCycle,
			RuleID:  scc[0],
			Message: fmt.Sprintf("rule trigger cycle: %s", strings.Join(path, " -> ")),
			Path:    path,
		})
	}
}

func hasSelfLoop(node string, graph triggerGraph) bool {
	for _, n := range graph[node] {
		if n == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components. Nodes are visited in
// sorted order so finding order is stable across runs.
func tarjanSCC(graph triggerGraph) [][]string {
	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var (
		index   int
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var connect func(string)
	connect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			connect(n)
		}
	}
	return sccs
}

// cyclePath reconstructs one traversal through an SCC for the finding
// message.
func cyclePath(scc []string, graph triggerGraph) []string {
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}

	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{}
	current := start
	for {
		visited[current] = true
		next := ""
		for _, n := range graph[current] {
			if members[n] && (!visited[n] || n == start) {
				next = n
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

// checkRespondReachability warns for every request-triggered rule from
// which no respond is reachable through the trigger graph. Such a rule
// can leave the external call to die on the gateway timeout, the
// failure class the error-handling design singles out as the worst.
func checkRespondReachability(ruleList []ir.Rule, report *Report) {
	graph := buildTriggerGraph(ruleList)
	byID := make(map[string]*ir.Rule, len(ruleList))
	for i := range ruleList {
		byID[ruleList[i].ID] = &ruleList[i]
	}

	responds := func(id string) bool {
		r := byID[id]
		if r == nil {
			return false
		}
		for _, inv := range r.Then {
			if inv.Op == gateway.OpRespond {
				return true
			}
		}
		return false
	}

	for _, r := range ruleList {
		if !triggeredBy(&r, gateway.OpRequest) {
			continue
		}

		// BFS closure from the rule itself.
		queue := []string{r.ID}
		seen := map[string]bool{r.ID: true}
		found := false
		for len(queue) > 0 && !found {
			id := queue[0]
			queue = queue[1:]
			if responds(id) {
				found = true
				break
			}
			for _, next := range graph[id] {
				if !seen[next] {
					seen[next] = true
					queue = append(queue, next)
				}
			}
		}

		if !found {
			report.Warnings = append(report.Warnings, Finding{
				Code:    WarnNoRespondPath,
				RuleID:  r.ID,
				Message: "request-triggered rule cannot reach a gateway respond; calls matching only this variant will time out",
			})
		}
	}
}

func triggeredBy(r *ir.Rule, op ir.OpRef) bool {
	for _, p := range r.When {
		if p.Op == op {
			return true
		}
	}
	return false
}
