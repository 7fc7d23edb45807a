package engine

import (
	"sync"

	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/module"
	"github.com/weft-labs/weft/internal/store"
)

// DefaultMaxSteps is the default per-flow invocation ceiling. It bounds
// runaway cascades without getting in the way of legitimate fan-out.
const DefaultMaxSteps = 1000

// Engine owns the journal, the logical clock, the module registry, and
// the rule set, and dispatches calls through the fixpoint loop.
//
// INVARIANTS:
//   - the rules slice order never changes after construction; evaluation
//     follows declaration order exactly
//   - rule IDs are unique (enforced at construction)
//   - one cascade runs at a time: Dispatch serializes on an internal
//     mutex, so all journal writes come from a single logical writer.
//     This trades cross-flow concurrency for non-interleaved journals:
//     concurrent Dispatch calls on different flows queue behind each
//     other, and in exchange every flow's events land contiguously with
//     gapless per-flow sequence numbers
type Engine struct {
	store    *store.Store
	clock    *Clock
	registry *module.Registry
	rules    []ir.Rule
	byOp     map[ir.OpRef][]int // op -> indices of rules whose when mentions it
	flowGen  FlowTokenGenerator

	cycleDetector *CycleDetector
	maxSteps      int
	quotas        map[string]*QuotaEnforcer

	mu sync.Mutex // serializes Dispatch: cross-flow concurrency traded for non-interleaved journals
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the per-flow invocation ceiling.
//
// Default: DefaultMaxSteps. Raise it for flows with wide fan-out; drop
// it to single digits when testing quota enforcement.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// New creates an Engine over the given store, module registry, rule set,
// and flow token generator.
//
// The rules slice must be in declaration order; it is copied to protect
// the ordering invariant from external mutation. Structural validation
// (Rule.Validate) is the loader's job - New only builds the dispatch
// index.
func New(
	s *store.Store,
	registry *module.Registry,
	rules []ir.Rule,
	flowGen FlowTokenGenerator,
	opts ...Option,
) *Engine {
	return NewWithClock(s, registry, rules, flowGen, NewClock(), opts...)
}

// NewWithClock creates an Engine with a pre-positioned clock. Used when
// resuming over an existing journal: seed the clock with store.MaxSeq so
// fresh records sequence after everything already written.
func NewWithClock(
	s *store.Store,
	registry *module.Registry,
	rules []ir.Rule,
	flowGen FlowTokenGenerator,
	clock *Clock,
	opts ...Option,
) *Engine {
	rulesCopy := make([]ir.Rule, len(rules))
	copy(rulesCopy, rules)

	e := &Engine{
		store:         s,
		clock:         clock,
		registry:      registry,
		rules:         rulesCopy,
		byOp:          indexRules(rulesCopy),
		flowGen:       flowGen,
		cycleDetector: NewCycleDetector(),
		maxSteps:      DefaultMaxSteps,
		quotas:        make(map[string]*QuotaEnforcer),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// indexRules maps each operation to the rules whose when-clause can be
// triggered by it. A rule joining several patterns on the same operation
// appears once; dispatch iterates its pattern positions itself.
func indexRules(rules []ir.Rule) map[ir.OpRef][]int {
	byOp := make(map[ir.OpRef][]int)
	for i, r := range rules {
		seen := make(map[ir.OpRef]bool, len(r.When))
		for _, p := range r.When {
			if seen[p.Op] {
				continue
			}
			seen[p.Op] = true
			byOp[p.Op] = append(byOp[p.Op], i)
		}
	}
	return byOp
}

// NewFlow generates a flow token for an external call.
// Thread-safe: delegates to the generator.
//
// Each external call opens exactly one flow; every record and firing in
// its cascade carries the same token.
func (e *Engine) NewFlow() string {
	return e.flowGen.Generate()
}

// Rules returns the rule set in declaration order.
func (e *Engine) Rules() []ir.Rule {
	return e.rules
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Store returns the underlying journal.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Registry returns the module registry the engine dispatches against.
func (e *Engine) Registry() *module.Registry {
	return e.registry
}

// MaxSteps returns the configured per-flow invocation ceiling.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// quotaFor returns or creates the quota enforcer for a flow.
// Caller must hold e.mu.
func (e *Engine) quotaFor(flowToken string) *QuotaEnforcer {
	if q, ok := e.quotas[flowToken]; ok {
		return q
	}
	q := NewQuotaEnforcer(e.maxSteps)
	e.quotas[flowToken] = q
	return q
}

// CleanupFlow drops the quota enforcer and cycle history for a flow that
// reached its terminal state. The gateway calls this after delivering a
// response; leaving it out only leaks memory, never correctness.
func (e *Engine) CleanupFlow(flowToken string) {
	e.mu.Lock()
	delete(e.quotas, flowToken)
	e.mu.Unlock()
	e.cycleDetector.Clear(flowToken)
}

// QuotaCount returns the number of active quota enforcers.
// Used by tests to verify cleanup.
func (e *Engine) QuotaCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.quotas)
}

// CycleDetectorForTesting exposes the cycle detector to tests.
func (e *Engine) CycleDetectorForTesting() *CycleDetector {
	return e.cycleDetector
}
