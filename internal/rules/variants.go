package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weft-labs/weft/internal/gateway"
	"github.com/weft-labs/weft/internal/ir"
)

// Variant analysis.
//
// A variant family is the set of rules triggered by the same operation
// through a single when pattern, partitioned by which optional fields
// each pattern requires present or absent. Two properties are checked
// over each family:
//
//   - overlap: no two respond-firing variants may unify against the
//     same concrete event, or one call gets two responds
//   - gap: every presence combination of the fields the family varies
//     on must match at least one variant, or some legal request shape
//     silently times out
//
// The gap check enumerates presence subsets, so it caps the number of
// varying fields it will consider; families past the cap are skipped
// (none of the shipped rule sets come close).

const maxVaryingFields = 8

// fieldKey qualifies a field name with its pattern side, since input
// and output namespaces are disjoint.
type fieldKey struct {
	side string // "input" or "output"
	name string
}

func (k fieldKey) String() string { return k.side + "." + k.name }

// checkVariants runs overlap and gap analysis per trigger operation.
func checkVariants(ruleList []ir.Rule, report *Report) {
	families := make(map[ir.OpRef][]*ir.Rule)
	var ops []ir.OpRef
	for i := range ruleList {
		r := &ruleList[i]
		if len(r.When) != 1 {
			// Multi-way joins are not presence variants of one event.
			continue
		}
		op := r.When[0].Op
		if len(families[op]) == 0 {
			ops = append(ops, op)
		}
		families[op] = append(families[op], r)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	for _, op := range ops {
		family := families[op]
		checkOverlap(family, report)
		if len(family) > 1 {
			checkGap(op, family, report)
		}
	}
}

// checkOverlap flags pairs of respond-firing variants whose patterns
// can unify against the same event.
func checkOverlap(family []*ir.Rule, report *Report) {
	for i := 0; i < len(family); i++ {
		for j := i + 1; j < len(family); j++ {
			a, b := family[i], family[j]
			if !firesRespond(a) || !firesRespond(b) {
				continue
			}
			if patternsMayOverlap(a.When[0], b.When[0]) {
				report.Errors = append(report.Errors, Finding{
					Code:   ErrOverlappingRespond,
					RuleID: a.ID,
					Message: fmt.Sprintf(
						"respond variants %s and %s can match the same event; a call matching both would receive two responds",
						a.ID, b.ID),
				})
			}
		}
	}
}

func firesRespond(r *ir.Rule) bool {
	for _, inv := range r.Then {
		if inv.Op == gateway.OpRespond {
			return true
		}
	}
	return false
}

// patternsMayOverlap reports whether some concrete event could satisfy
// both patterns. It is conservative: only presence contradictions and
// unequal literals on a shared field separate two patterns; variables
// never do.
func patternsMayOverlap(a, b ir.EventPattern) bool {
	if a.Op != b.Op {
		return false
	}
	return sideMayOverlap(a.Input, a.AbsentInput, b.Input, b.AbsentInput) &&
		sideMayOverlap(a.Output, a.AbsentOutput, b.Output, b.AbsentOutput)
}

func sideMayOverlap(aFields map[string]ir.Term, aAbsent []string, bFields map[string]ir.Term, bAbsent []string) bool {
	absentA := toSet(aAbsent)
	absentB := toSet(bAbsent)

	for name, at := range aFields {
		if absentB[name] {
			return false // a requires presence, b requires absence
		}
		bt, shared := bFields[name]
		if !shared {
			continue
		}
		al, aLit := at.(ir.Lit)
		bl, bLit := bt.(ir.Lit)
		if aLit && bLit && !ir.Equal(al.Value, bl.Value) {
			return false
		}
	}
	for name := range bFields {
		if absentA[name] {
			return false
		}
	}
	return true
}

// checkGap enumerates presence combinations of the family's varying
// fields and warns for any combination no variant accepts.
func checkGap(op ir.OpRef, family []*ir.Rule, report *Report) {
	varying := varyingFields(family)
	if len(varying) == 0 || len(varying) > maxVaryingFields {
		return
	}

	for mask := 0; mask < 1<<len(varying); mask++ {
		present := make(map[fieldKey]bool, len(varying))
		for i, f := range varying {
			present[f] = mask&(1<<i) != 0
		}

		matched := false
		for _, r := range family {
			if presenceMatches(r.When[0], varying, present) {
				matched = true
				break
			}
		}
		if !matched {
			report.Warnings = append(report.Warnings, Finding{
				Code: WarnVariantGap,
				Message: fmt.Sprintf(
					"op %s: no variant matches presence combination %s",
					op, describeCombination(varying, present)),
			})
		}
	}
}

// varyingFields returns the fields whose presence treatment differs
// across the family: required present by one variant and required
// absent (or unmentioned) by another.
func varyingFields(family []*ir.Rule) []fieldKey {
	requiredBy := make(map[fieldKey]int)
	mentioned := make(map[fieldKey]bool)

	for _, r := range family {
		p := r.When[0]
		for name := range p.Input {
			requiredBy[fieldKey{"input", name}]++
			mentioned[fieldKey{"input", name}] = true
		}
		for name := range p.Output {
			requiredBy[fieldKey{"output", name}]++
			mentioned[fieldKey{"output", name}] = true
		}
		for _, name := range p.AbsentInput {
			mentioned[fieldKey{"input", name}] = true
		}
		for _, name := range p.AbsentOutput {
			mentioned[fieldKey{"output", name}] = true
		}
	}

	var varying []fieldKey
	for f := range mentioned {
		if requiredBy[f] > 0 && requiredBy[f] < len(family) {
			varying = append(varying, f)
		}
	}
	sort.Slice(varying, func(i, j int) bool {
		return varying[i].String() < varying[j].String()
	})
	return varying
}

// presenceMatches checks one variant against a hypothetical event
// described only by which varying fields are present. Fields outside
// the varying set are assumed present.
func presenceMatches(p ir.EventPattern, varying []fieldKey, present map[fieldKey]bool) bool {
	isVarying := make(map[fieldKey]bool, len(varying))
	for _, f := range varying {
		isVarying[f] = true
	}

	check := func(side string, fields map[string]ir.Term, absent []string) bool {
		for name := range fields {
			f := fieldKey{side, name}
			if isVarying[f] && !present[f] {
				return false
			}
		}
		for _, name := range absent {
			f := fieldKey{side, name}
			if isVarying[f] && present[f] {
				return false
			}
		}
		return true
	}

	return check("input", p.Input, p.AbsentInput) &&
		check("output", p.Output, p.AbsentOutput)
}

func describeCombination(varying []fieldKey, present map[fieldKey]bool) string {
	parts := make([]string, 0, len(varying))
	for _, f := range varying {
		state := "absent"
		if present[f] {
			state = "present"
		}
		parts = append(parts, f.String()+"="+state)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
