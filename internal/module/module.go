// Package module defines the two fixed contracts every data module exposes
// to the dispatcher, and the registry the engine resolves operation
// references through.
//
// A mutator returns a success-shaped output or an error-shaped output
// ({error: string}) - a discriminated union, never both, and never a Go
// error for domain outcomes. A query is total: it returns zero or more
// rows and an empty slice means "no match", never a failure. Go errors on
// either contract signal infrastructure faults only (broken store,
// cancelled context) and abort the dispatch round.
package module

import (
	"context"
	"fmt"
	"sort"

	"github.com/weft-labs/weft/internal/ir"
)

// MutatorFunc executes a state-changing operation.
// The returned Object is either success-shaped or {error: string}.
type MutatorFunc func(ctx context.Context, input ir.Object) (ir.Object, error)

// QueryFunc executes a read-only operation returning zero or more rows,
// each independently bindable by the join operator.
type QueryFunc func(ctx context.Context, input ir.Object) ([]ir.Object, error)

// Module is a self-contained data store exposing named mutators and
// queries. Implementations own all durable state and all store-level
// uniqueness/atomicity guarantees; the engine holds no locks on their
// behalf.
type Module interface {
	Name() string
	Mutators() map[string]MutatorFunc
	Queries() map[string]QueryFunc
}

// Kind distinguishes the two operation contracts.
type Kind int

const (
	KindMutator Kind = iota + 1
	KindQuery
)

// Registry is an immutable lookup table from operation references to
// their implementations. Built once at startup; no runtime mutation.
type Registry struct {
	mutators map[ir.OpRef]MutatorFunc
	queries  map[ir.OpRef]QueryFunc
}

// NewRegistry indexes the given modules. Duplicate module names or
// colliding operation names within a module are registration errors.
func NewRegistry(modules ...Module) (*Registry, error) {
	r := &Registry{
		mutators: make(map[ir.OpRef]MutatorFunc),
		queries:  make(map[ir.OpRef]QueryFunc),
	}

	seen := make(map[string]bool)
	for _, m := range modules {
		if seen[m.Name()] {
			return nil, fmt.Errorf("duplicate module name %q", m.Name())
		}
		seen[m.Name()] = true

		for op, fn := range m.Mutators() {
			ref := ir.OpRef(m.Name() + "." + op)
			r.mutators[ref] = fn
		}
		for op, fn := range m.Queries() {
			ref := ir.OpRef(m.Name() + "." + op)
			if _, dup := r.mutators[ref]; dup {
				return nil, fmt.Errorf("operation %s registered as both mutator and query", ref)
			}
			r.queries[ref] = fn
		}
	}

	return r, nil
}

// Mutator resolves an operation reference to its mutator.
func (r *Registry) Mutator(ref ir.OpRef) (MutatorFunc, bool) {
	fn, ok := r.mutators[ref]
	return fn, ok
}

// Query resolves an operation reference to its query.
func (r *Registry) Query(ref ir.OpRef) (QueryFunc, bool) {
	fn, ok := r.queries[ref]
	return fn, ok
}

// KindOf reports which contract an operation reference resolves to.
func (r *Registry) KindOf(ref ir.OpRef) (Kind, bool) {
	if _, ok := r.mutators[ref]; ok {
		return KindMutator, true
	}
	if _, ok := r.queries[ref]; ok {
		return KindQuery, true
	}
	return 0, false
}

// Ops returns every registered operation reference, sorted.
// Used by static rule analysis and the validate command.
func (r *Registry) Ops() []ir.OpRef {
	refs := make([]ir.OpRef, 0, len(r.mutators)+len(r.queries))
	for ref := range r.mutators {
		refs = append(refs, ref)
	}
	for ref := range r.queries {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// ErrorOutput builds the error branch of a mutator's discriminated union.
func ErrorOutput(msg string) ir.Object {
	return ir.Object{ir.ErrorField: ir.String(msg)}
}
