package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/weft-labs/weft/internal/ir"
)

// CompileRule parses one CUE rule struct into an ir.Rule. The id is the
// rule's field label in the enclosing rule struct.
func CompileRule(id string, v cue.Value) (*ir.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.Rule{ID: id}

	var err error
	rule.When, err = parseWhen(id, v)
	if err != nil {
		return nil, err
	}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		rule.Where, err = parseWhere(id, whereVal)
		if err != nil {
			return nil, err
		}
	}

	rule.Then, err = parseThen(id, v)
	if err != nil {
		return nil, err
	}

	return rule, nil
}

func parseWhen(id string, v cue.Value) ([]ir.EventPattern, error) {
	whenVal := v.LookupPath(cue.ParsePath("when"))
	if !whenVal.Exists() {
		return nil, &CompileError{
			Code: ErrMissingClause, RuleID: id, Field: "when",
			Message: "when clause is required", Pos: v.Pos(),
		}
	}

	var patterns []ir.EventPattern
	iter, err := whenVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		p, perr := parsePattern(id, iter.Value())
		if perr != nil {
			return nil, perr
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		return nil, &CompileError{
			Code: ErrMissingClause, RuleID: id, Field: "when",
			Message: "when clause must list at least one pattern", Pos: whenVal.Pos(),
		}
	}
	return patterns, nil
}

func parsePattern(id string, v cue.Value) (ir.EventPattern, error) {
	var p ir.EventPattern

	op, err := parseOpRef(id, "when.op", v)
	if err != nil {
		return p, err
	}
	p.Op = op

	if p.Input, err = parseTermMap(id, "when.input", v.LookupPath(cue.ParsePath("input"))); err != nil {
		return p, err
	}
	if p.Output, err = parseTermMap(id, "when.output", v.LookupPath(cue.ParsePath("output"))); err != nil {
		return p, err
	}
	if p.AbsentInput, err = parseStringList(id, "when.absentInput", v.LookupPath(cue.ParsePath("absentInput"))); err != nil {
		return p, err
	}
	if p.AbsentOutput, err = parseStringList(id, "when.absentOutput", v.LookupPath(cue.ParsePath("absentOutput"))); err != nil {
		return p, err
	}

	for _, name := range p.AbsentInput {
		if _, both := p.Input[name]; both {
			return p, &CompileError{
				Code: ErrDuplicateField, RuleID: id, Field: "when.absentInput",
				Message: fmt.Sprintf("field %q is both constrained and listed absent", name),
				Pos:     v.Pos(),
			}
		}
	}
	for _, name := range p.AbsentOutput {
		if _, both := p.Output[name]; both {
			return p, &CompileError{
				Code: ErrDuplicateField, RuleID: id, Field: "when.absentOutput",
				Message: fmt.Sprintf("field %q is both constrained and listed absent", name),
				Pos:     v.Pos(),
			}
		}
	}

	return p, nil
}

func parseWhere(id string, whereVal cue.Value) ([]ir.WhereStep, error) {
	var steps []ir.WhereStep
	iter, err := whereVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		step, serr := parseWhereStep(id, iter.Value())
		if serr != nil {
			return nil, serr
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseWhereStep(id string, v cue.Value) (ir.WhereStep, error) {
	queryVal := v.LookupPath(cue.ParsePath("query"))
	filterVal := v.LookupPath(cue.ParsePath("filter"))
	collectVal := v.LookupPath(cue.ParsePath("collect"))

	present := 0
	for _, val := range []cue.Value{queryVal, filterVal, collectVal} {
		if val.Exists() {
			present++
		}
	}
	if present != 1 {
		return nil, &CompileError{
			Code: ErrBadWhereStep, RuleID: id, Field: "where",
			Message: "where step must have exactly one of query, filter, collect",
			Pos:     v.Pos(),
		}
	}

	switch {
	case queryVal.Exists():
		return parseQueryStep(id, queryVal)
	case filterVal.Exists():
		pred, err := parsePredicate(id, filterVal)
		if err != nil {
			return nil, err
		}
		return ir.FilterStep{Pred: pred}, nil
	default:
		return parseCollectStep(id, collectVal)
	}
}

func parseQueryStep(id string, v cue.Value) (ir.QueryStep, error) {
	var step ir.QueryStep

	op, err := parseOpRef(id, "where.query.op", v)
	if err != nil {
		return step, err
	}
	step.Op = op

	if step.Args, err = parseTermMap(id, "where.query.args", v.LookupPath(cue.ParsePath("args"))); err != nil {
		return step, err
	}

	bindVal := v.LookupPath(cue.ParsePath("bind"))
	if !bindVal.Exists() {
		return step, &CompileError{
			Code: ErrBadBinding, RuleID: id, Field: "where.query.bind",
			Message: "query step requires a bind map", Pos: v.Pos(),
		}
	}
	step.Bind = make(map[string]ir.Var)
	fields, err := bindVal.Fields()
	if err != nil {
		return step, formatCUEError(err)
	}
	for fields.Next() {
		rowField := fieldLabel(fields)
		varName, verr := parseVarString(id, "where.query.bind."+rowField, fields.Value())
		if verr != nil {
			return step, verr
		}
		step.Bind[rowField] = varName
	}

	fallbackVal := v.LookupPath(cue.ParsePath("fallback"))
	if fallbackVal.Exists() {
		step.Fallback = make(map[ir.Var]ir.Value)
		fb, ferr := fallbackVal.Fields()
		if ferr != nil {
			return step, formatCUEError(ferr)
		}
		for fb.Next() {
			label := fieldLabel(fb)
			if !strings.HasPrefix(label, "?") || len(label) < 2 {
				return step, &CompileError{
					Code: ErrBadBinding, RuleID: id, Field: "where.query.fallback",
					Message: fmt.Sprintf("fallback key %q must be a \"?var\" name", label),
					Pos:     fb.Value().Pos(),
				}
			}
			val, verr := cueLiteral(id, "where.query.fallback."+label, fb.Value())
			if verr != nil {
				return step, verr
			}
			step.Fallback[ir.Var(label[1:])] = val
		}
	}

	return step, nil
}

func parseCollectStep(id string, v cue.Value) (ir.CollectStep, error) {
	from, err := parseVarString(id, "where.collect.from", v.LookupPath(cue.ParsePath("from")))
	if err != nil {
		return ir.CollectStep{}, err
	}
	into, err := parseVarString(id, "where.collect.into", v.LookupPath(cue.ParsePath("into")))
	if err != nil {
		return ir.CollectStep{}, err
	}
	return ir.CollectStep{From: from, Into: into}, nil
}

func parsePredicate(id string, v cue.Value) (ir.Predicate, error) {
	eqVal := v.LookupPath(cue.ParsePath("eq"))
	neVal := v.LookupPath(cue.ParsePath("ne"))
	andVal := v.LookupPath(cue.ParsePath("and"))
	notVal := v.LookupPath(cue.ParsePath("not"))

	switch {
	case eqVal.Exists():
		return parseCmp(id, ir.CmpEq, eqVal)
	case neVal.Exists():
		return parseCmp(id, ir.CmpNe, neVal)
	case andVal.Exists():
		var preds []ir.Predicate
		iter, err := andVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			p, perr := parsePredicate(id, iter.Value())
			if perr != nil {
				return nil, perr
			}
			preds = append(preds, p)
		}
		return ir.And{Preds: preds}, nil
	case notVal.Exists():
		p, err := parsePredicate(id, notVal)
		if err != nil {
			return nil, err
		}
		return ir.Not{Pred: p}, nil
	default:
		return nil, &CompileError{
			Code: ErrBadPredicate, RuleID: id, Field: "where.filter",
			Message: "predicate must be one of eq, ne, and, not",
			Pos:     v.Pos(),
		}
	}
}

func parseCmp(id string, op ir.CmpOp, v cue.Value) (ir.Cmp, error) {
	var terms []ir.Term
	iter, err := v.List()
	if err != nil {
		return ir.Cmp{}, formatCUEError(err)
	}
	for iter.Next() {
		t, terr := parseTerm(id, "where.filter."+string(op), iter.Value())
		if terr != nil {
			return ir.Cmp{}, terr
		}
		terms = append(terms, t)
	}
	if len(terms) != 2 {
		return ir.Cmp{}, &CompileError{
			Code: ErrBadPredicate, RuleID: id, Field: "where.filter." + string(op),
			Message: fmt.Sprintf("%s takes exactly two terms, got %d", op, len(terms)),
			Pos:     v.Pos(),
		}
	}
	return ir.Cmp{Left: terms[0], Op: op, Right: terms[1]}, nil
}

func parseThen(id string, v cue.Value) ([]ir.Invoke, error) {
	thenVal := v.LookupPath(cue.ParsePath("then"))
	if !thenVal.Exists() {
		return nil, &CompileError{
			Code: ErrMissingClause, RuleID: id, Field: "then",
			Message: "then clause is required", Pos: v.Pos(),
		}
	}

	var invokes []ir.Invoke
	iter, err := thenVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		ev := iter.Value()
		op, oerr := parseOpRef(id, "then.op", ev)
		if oerr != nil {
			return nil, oerr
		}
		args, aerr := parseTermMap(id, "then.args", ev.LookupPath(cue.ParsePath("args")))
		if aerr != nil {
			return nil, aerr
		}
		if args == nil {
			args = map[string]ir.Term{}
		}
		invokes = append(invokes, ir.Invoke{Op: op, Args: args})
	}
	if len(invokes) == 0 {
		return nil, &CompileError{
			Code: ErrMissingClause, RuleID: id, Field: "then",
			Message: "then clause must list at least one invocation", Pos: thenVal.Pos(),
		}
	}
	return invokes, nil
}

// parseOpRef reads the op field of a pattern, query step, or invoke.
func parseOpRef(id, field string, v cue.Value) (ir.OpRef, error) {
	opVal := v.LookupPath(cue.ParsePath("op"))
	if !opVal.Exists() {
		return "", &CompileError{
			Code: ErrBadOpRef, RuleID: id, Field: field,
			Message: "op is required", Pos: v.Pos(),
		}
	}
	s, err := opVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	op := ir.OpRef(s)
	if verr := op.Validate(); verr != nil {
		return "", &CompileError{
			Code: ErrBadOpRef, RuleID: id, Field: field,
			Message: verr.Error(), Pos: opVal.Pos(),
		}
	}
	return op, nil
}

// parseTermMap reads a struct of field -> term. A missing struct yields
// a nil map.
func parseTermMap(id, field string, v cue.Value) (map[string]ir.Term, error) {
	if !v.Exists() {
		return nil, nil
	}
	out := make(map[string]ir.Term)
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := fieldLabel(iter)
		t, terr := parseTerm(id, field+"."+name, iter.Value())
		if terr != nil {
			return nil, terr
		}
		out[name] = t
	}
	return out, nil
}

// parseTerm reads one term position: a "?var" string is a variable,
// anything else a literal.
func parseTerm(id, field string, v cue.Value) (ir.Term, error) {
	if v.Kind() == cue.StringKind {
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if strings.HasPrefix(s, "?") {
			if len(s) < 2 {
				return nil, &CompileError{
					Code: ErrBadTerm, RuleID: id, Field: field,
					Message: `"?" is not a variable name`, Pos: v.Pos(),
				}
			}
			return ir.Var(s[1:]), nil
		}
		return ir.Lit{Value: ir.String(s)}, nil
	}

	val, err := cueLiteral(id, field, v)
	if err != nil {
		return nil, err
	}
	return ir.Lit{Value: val}, nil
}

// parseVarString reads a field that must be a "?var" string.
func parseVarString(id, field string, v cue.Value) (ir.Var, error) {
	if !v.Exists() {
		return "", &CompileError{
			Code: ErrBadBinding, RuleID: id, Field: field,
			Message: "variable is required", Pos: v.Pos(),
		}
	}
	s, err := v.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if !strings.HasPrefix(s, "?") || len(s) < 2 {
		return "", &CompileError{
			Code: ErrBadBinding, RuleID: id, Field: field,
			Message: fmt.Sprintf("%q must be a \"?var\" name", s), Pos: v.Pos(),
		}
	}
	return ir.Var(s[1:]), nil
}

func parseStringList(id, field string, v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	var out []string
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, serr := iter.Value().String()
		if serr != nil {
			return nil, &CompileError{
				Code: ErrBadTerm, RuleID: id, Field: field,
				Message: "entries must be field-name strings", Pos: iter.Value().Pos(),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// cueLiteral converts a CUE value to an ir.Value, enforcing the value
// domain: no floats, no null. Strings nested inside literal lists and
// structs are plain strings, never variables.
func cueLiteral(id, field string, v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Code: ErrFloatForbidden, RuleID: id, Field: field,
			Message: "floats are forbidden in rules", Pos: v.Pos(),
		}
	case cue.NullKind:
		return nil, &CompileError{
			Code: ErrNullForbidden, RuleID: id, Field: field,
			Message: "null is forbidden in rules", Pos: v.Pos(),
		}
	case cue.ListKind:
		var arr ir.Array
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			elem, eerr := cueLiteral(id, field, iter.Value())
			if eerr != nil {
				return nil, eerr
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		obj := make(ir.Object)
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			elem, eerr := cueLiteral(id, field, iter.Value())
			if eerr != nil {
				return nil, eerr
			}
			obj[fieldLabel(iter)] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Code: ErrBadTerm, RuleID: id, Field: field,
			Message: fmt.Sprintf("unsupported value kind %v", v.Kind()), Pos: v.Pos(),
		}
	}
}

// fieldLabel strips CUE quoting from a struct field label.
func fieldLabel(iter *cue.Iterator) string {
	return strings.Trim(iter.Selector().String(), `"`)
}
