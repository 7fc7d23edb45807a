package ir

import "fmt"

// Var is an opaque symbolic placeholder, distinct per rule authoring.
// A Var is never a value; it only acquires meaning inside a frame.
type Var string

// Term is one position in a pattern or argument template: either a
// literal Value or a Var. Sealed - only Lit and Var implement it.
type Term interface {
	term() // sealed
}

// Lit wraps a literal Value as a Term.
type Lit struct {
	Value Value
}

func (Lit) term() {}
func (Var) term() {}

// L is shorthand for a literal string Term, the dominant literal kind
// in rule authoring.
func L(s string) Term { return Lit{Value: String(s)} }

// EventPattern names a module operation and constrains a mix of input and
// output fields with literals and Vars.
//
// Presence semantics (the single rule the whole variant machinery hangs on):
// a field ABSENT from the pattern never constrains a match; a field PRESENT,
// even bound to a fresh Var, must exist on the candidate event. AbsentInput
// and AbsentOutput invert that: the named fields must NOT exist on the
// event. Variant partitioning is expressed entirely through these lists.
type EventPattern struct {
	Op           OpRef           `json:"op"`
	Input        map[string]Term `json:"input,omitempty"`
	Output       map[string]Term `json:"output,omitempty"`
	AbsentInput  []string        `json:"absent_input,omitempty"`
	AbsentOutput []string        `json:"absent_output,omitempty"`
}

// WhereStep is one refinement step in a rule's where pipeline.
// Sealed - only QueryStep, FilterStep, and CollectStep implement it.
type WhereStep interface {
	whereStep() // sealed
}

// QueryStep extends a frame set by a relational join against a module
// query. For each frame the Args template is resolved and the query
// invoked; each result row produces one output frame via Bind.
//
// A query yielding zero rows for a frame drops that frame unless Fallback
// is non-nil, in which case one frame is produced with the fallback
// bindings. Omitting the fallback on a response-assembly path risks an
// external call that never reaches a respond, so rule authors should
// reach for Fallback by default.
type QueryStep struct {
	Op       OpRef          `json:"op"`
	Args     map[string]Term `json:"args,omitempty"`
	Bind     map[string]Var  `json:"bind"`               // row field -> variable
	Fallback map[Var]Value   `json:"fallback,omitempty"` // nil = drop frame on zero rows
}

func (QueryStep) whereStep() {}

// FilterStep drops frames whose bindings fail the predicate.
// Order of surviving frames is preserved.
type FilterStep struct {
	Pred Predicate `json:"pred"`
}

func (FilterStep) whereStep() {}

// CollectStep collapses the frame set: the From variable's value is
// gathered from every frame, in frame-set order, into a single array
// bound to Into on exactly one summary frame. All other bindings are
// discarded.
type CollectStep struct {
	From Var `json:"from"`
	Into Var `json:"into"`
}

func (CollectStep) whereStep() {}

// Predicate is a boolean condition over bound values.
// Sealed - only Cmp, And, and Not implement it.
type Predicate interface {
	predicate() // sealed
}

// CmpOp is a comparison operator.
type CmpOp string

const (
	CmpEq CmpOp = "eq"
	CmpNe CmpOp = "ne"
)

// Cmp compares two resolved Terms.
type Cmp struct {
	Left  Term  `json:"left"`
	Op    CmpOp `json:"op"`
	Right Term  `json:"right"`
}

func (Cmp) predicate() {}

// And requires every sub-predicate to hold.
type And struct {
	Preds []Predicate `json:"preds"`
}

func (And) predicate() {}

// Not inverts a predicate.
type Not struct {
	Pred Predicate `json:"pred"`
}

func (Not) predicate() {}

// Invoke is one then-clause invocation template: a target operation and
// an argument template mixing literals and bound Vars.
type Invoke struct {
	Op   OpRef           `json:"op"`
	Args map[string]Term `json:"args"`
}

// Rule is a compiled declarative rule: when / where / then.
//
// When lists one or more event patterns; multiple patterns form a
// multi-way join against the flow's event log with one shared frame.
// Where is an optional refinement pipeline. Then lists the invocations
// fired once per surviving frame, in declaration order.
type Rule struct {
	ID    string         `json:"id"`
	When  []EventPattern `json:"when"`
	Where []WhereStep    `json:"where,omitempty"`
	Then  []Invoke       `json:"then"`
}

// Validate performs structural checks that do not need the full registry:
// non-empty clauses, well-formed operation references, and then-args that
// only reference variables bound somewhere in when or where.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if len(r.When) == 0 {
		return fmt.Errorf("rule %s: when clause is required", r.ID)
	}
	if len(r.Then) == 0 {
		return fmt.Errorf("rule %s: then clause is required", r.ID)
	}

	bound := r.boundVars()

	for _, p := range r.When {
		if err := p.Op.Validate(); err != nil {
			return fmt.Errorf("rule %s: when: %w", r.ID, err)
		}
	}
	for i, inv := range r.Then {
		if err := inv.Op.Validate(); err != nil {
			return fmt.Errorf("rule %s: then[%d]: %w", r.ID, i, err)
		}
		for arg, t := range inv.Args {
			if v, ok := t.(Var); ok && !bound[v] {
				return fmt.Errorf("rule %s: then[%d]: arg %q references unbound variable %q", r.ID, i, arg, v)
			}
		}
	}

	return nil
}

// boundVars collects every Var that when or where can bind.
func (r *Rule) boundVars() map[Var]bool {
	bound := make(map[Var]bool)
	for _, p := range r.When {
		for _, t := range p.Input {
			if v, ok := t.(Var); ok {
				bound[v] = true
			}
		}
		for _, t := range p.Output {
			if v, ok := t.(Var); ok {
				bound[v] = true
			}
		}
	}
	for _, step := range r.Where {
		switch s := step.(type) {
		case QueryStep:
			for _, v := range s.Bind {
				bound[v] = true
			}
			for v := range s.Fallback {
				bound[v] = true
			}
		case CollectStep:
			bound[s.Into] = true
		}
	}
	return bound
}
