package rules

import (
	"fmt"
	"sort"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
)

// Registry is the immutable, validated rule set.
//
// Construction runs the full static analysis; a registry that exists is
// a rule set the dispatcher can safely evaluate. Evaluation order is the
// slice order handed to NewRegistry, which loaders normalize to lexical
// rule-id order so it cannot depend on file-system enumeration.
type Registry struct {
	rules []ir.Rule
	byOp  map[ir.OpRef][]int
}

// NewRegistry validates and analyzes the rule set against the module
// registry and freezes it. Analysis errors abort construction; warnings
// are returned alongside the registry for the caller to log.
func NewRegistry(ruleList []ir.Rule, modules *module.Registry) (*Registry, []Finding, error) {
	report := Analyze(ruleList, modules)
	if len(report.Errors) > 0 {
		return nil, report.Warnings, fmt.Errorf("rule analysis: %d error(s), first: %s",
			len(report.Errors), report.Errors[0].Error())
	}

	rules := make([]ir.Rule, len(ruleList))
	copy(rules, ruleList)

	byOp := make(map[ir.OpRef][]int)
	for i, r := range rules {
		seen := make(map[ir.OpRef]bool, len(r.When))
		for _, p := range r.When {
			if !seen[p.Op] {
				seen[p.Op] = true
				byOp[p.Op] = append(byOp[p.Op], i)
			}
		}
	}

	return &Registry{rules: rules, byOp: byOp}, report.Warnings, nil
}

// Rules returns the rule set in evaluation order.
func (r *Registry) Rules() []ir.Rule {
	return r.rules
}

// RulesFor returns the rules whose when-clause mentions op, in
// evaluation order.
func (r *Registry) RulesFor(op ir.OpRef) []ir.Rule {
	idxs := r.byOp[op]
	out := make([]ir.Rule, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, r.rules[i])
	}
	return out
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return len(r.rules)
}

// SortByID orders a rule slice lexically by rule id, in place. Loaders
// apply this before registration so evaluation order is a property of
// the rule set, not of directory listing order.
func SortByID(ruleList []ir.Rule) {
	sort.Slice(ruleList, func(i, j int) bool { return ruleList[i].ID < ruleList[j].ID })
}
