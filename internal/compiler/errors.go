package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile error codes (E100-E199).
const (
	ErrCUE             = "E100" // underlying CUE evaluation error
	ErrMissingClause   = "E101" // when/then clause absent or empty
	ErrBadOpRef        = "E102" // operation reference malformed
	ErrBadTerm         = "E103" // value outside the rule value domain
	ErrBadWhereStep    = "E104" // where step not query/filter/collect
	ErrBadPredicate    = "E105" // predicate not eq/ne/and/not
	ErrBadBinding      = "E106" // bind entry is not a "?var" string
	ErrFloatForbidden  = "E107" // float literal in a rule
	ErrNullForbidden   = "E108" // null literal in a rule
	ErrDuplicateField  = "E109" // same field constrained twice
	ErrMissingRuleRoot = "E110" // file has no top-level rule struct
)

// CompileError is one rule compilation failure with its CUE position.
type CompileError struct {
	Code    string
	RuleID  string
	Field   string
	Message string
	Pos     token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	loc := ""
	if e.Pos.IsValid() {
		loc = fmt.Sprintf("%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.RuleID != "" {
		return fmt.Sprintf("%s[%s] rule %s: %s: %s", loc, e.Code, e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s[%s] %s: %s", loc, e.Code, e.Field, e.Message)
}

// formatCUEError wraps a raw CUE error with its position, when one is
// available.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	poss := errors.Positions(err)
	pos := token.NoPos
	if len(poss) > 0 {
		pos = poss[0]
	}
	return &CompileError{
		Code:    ErrCUE,
		Field:   "cue",
		Message: errors.Details(err, nil),
		Pos:     pos,
	}
}
