package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weft-labs/weft/internal/frames"
	"github.com/weft-labs/weft/internal/ir"
	"github.com/weft-labs/weft/internal/store"
)

// Dispatch executes one external call and its entire rule cascade to
// fixpoint, synchronously. It returns every event record the cascade
// journaled, in execution order; the first record is always the root
// call itself.
//
// The loop is breadth-first over a FIFO work queue: execute the mutator,
// journal the record, evaluate rules against it, enqueue the generated
// invocations, repeat until the queue drains. Rule evaluation happens in
// declaration order and joins scan the flow log in journal order, so the
// whole cascade is a pure function of (journal state, call, rule set).
//
// ERROR HANDLING: infrastructure failures (store writes, mutator I/O)
// abort the cascade and are returned alongside the records already
// journaled. Rule-level failures - an unresolvable template variable, a
// where-step error - are logged with full context and skip only the
// affected firing; retrying them would make replay non-deterministic.
// Domain errors never reach this layer as Go errors: modules report them
// as an error field on the record and rules branch on its presence.
func (e *Engine) Dispatch(ctx context.Context, flowToken string, op ir.OpRef, input ir.Object) ([]ir.EventRecord, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if _, ok := e.registry.Mutator(op); !ok {
		return nil, NewUnknownOperationError(flowToken, "", string(op))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	quota := e.quotaFor(flowToken)

	var queue invQueue
	queue.push(invocation{op: op, input: input})

	var emitted []ir.EventRecord
	for {
		inv, ok := queue.pop()
		if !ok {
			return emitted, nil
		}

		if err := quota.Check(flowToken); err != nil {
			slog.Error("max steps quota exceeded",
				"flow_token", flowToken,
				"op", inv.op,
				"steps", quota.Current(),
				"limit", e.maxSteps,
			)
			return emitted, err
		}

		rec, err := e.executeInvocation(ctx, flowToken, inv)
		if err != nil {
			return emitted, err
		}
		emitted = append(emitted, rec)

		if err := e.evaluate(ctx, flowToken, &rec, &queue); err != nil {
			return emitted, err
		}
	}
}

// Invoke executes one operation and journals its event record without
// evaluating any rules. The gateway uses it for passthrough paths,
// which bypass the engine by policy but still belong in the journal.
func (e *Engine) Invoke(ctx context.Context, flowToken string, op ir.OpRef, input ir.Object) (ir.EventRecord, error) {
	if err := op.Validate(); err != nil {
		return ir.EventRecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.executeInvocation(ctx, flowToken, invocation{op: op, input: input})
}

// executeInvocation runs one mutator and journals its event record.
func (e *Engine) executeInvocation(ctx context.Context, flowToken string, inv invocation) (ir.EventRecord, error) {
	mutator, ok := e.registry.Mutator(inv.op)
	if !ok {
		// Load-time analysis checks every then-clause target, so this
		// only fires when modules were deregistered under a live rule set.
		return ir.EventRecord{}, NewUnknownOperationError(flowToken, "", string(inv.op))
	}

	output, err := mutator(ctx, inv.input)
	if err != nil {
		return ir.EventRecord{}, fmt.Errorf("execute %s: %w", inv.op, err)
	}

	seq := e.clock.Next()
	id, err := ir.EventID(flowToken, inv.op, inv.input, output, seq)
	if err != nil {
		return ir.EventRecord{}, fmt.Errorf("compute event id for %s: %w", inv.op, err)
	}

	rec := ir.EventRecord{
		ID:        id,
		FlowToken: flowToken,
		Op:        inv.op,
		Input:     inv.input,
		Output:    output,
		Seq:       seq,
	}

	if err := e.store.WriteEvent(ctx, rec); err != nil {
		return ir.EventRecord{}, fmt.Errorf("write event %s: %w", rec.ID, err)
	}

	slog.Debug("event journaled",
		"id", rec.ID,
		"op", rec.Op,
		"flow_token", flowToken,
		"seq", rec.Seq,
		"is_error", rec.IsError(),
	)

	return rec, nil
}

// evaluate matches the rule set against a freshly journaled record and
// enqueues the invocations of every new firing.
func (e *Engine) evaluate(ctx context.Context, flowToken string, rec *ir.EventRecord, queue *invQueue) error {
	candidates := e.byOp[rec.Op]
	if len(candidates) == 0 {
		return nil
	}

	flowLog, recPtr, err := e.flowLog(ctx, flowToken, rec)
	if err != nil {
		return err
	}

	for _, ri := range candidates {
		rule := e.rules[ri]

		// The new record may satisfy the join at any pattern position
		// naming its operation; enumerate each pinned position. Frames
		// produced twice over different positions collapse to one firing
		// via the binding hash.
		var fs frames.FrameSet
		for pi, p := range rule.When {
			if p.Op != rec.Op {
				continue
			}
			fs = append(fs, frames.MatchAll(rule.When, flowLog, pi, recPtr, frames.NewFrame())...)
		}
		if len(fs) == 0 {
			continue
		}

		fs, err := e.runWhere(ctx, flowToken, rule, fs)
		if err != nil {
			slog.Error("where pipeline failed",
				"rule_id", rule.ID,
				"event_id", rec.ID,
				"flow_token", flowToken,
				"error", err,
			)
			continue
		}

		for _, f := range fs {
			if err := e.fire(ctx, flowToken, rule, rec, f, queue); err != nil {
				return err
			}
		}
	}

	return nil
}

// flowLog reads the flow's journal in canonical order and locates the
// triggering record's entry so the join can pin a pattern to it.
func (e *Engine) flowLog(ctx context.Context, flowToken string, rec *ir.EventRecord) ([]*ir.EventRecord, *ir.EventRecord, error) {
	events, err := e.store.ReadFlow(ctx, flowToken)
	if err != nil {
		return nil, nil, fmt.Errorf("read flow %s: %w", flowToken, err)
	}

	log := make([]*ir.EventRecord, len(events))
	recPtr := rec
	for i := range events {
		log[i] = &events[i]
		if events[i].ID == rec.ID {
			recPtr = &events[i]
		}
	}
	return log, recPtr, nil
}

// runWhere applies a rule's where pipeline to the when-join's frame set.
func (e *Engine) runWhere(ctx context.Context, flowToken string, rule ir.Rule, fs frames.FrameSet) (frames.FrameSet, error) {
	var seed frames.Frame
	if len(fs) > 0 {
		seed = fs[0]
	}

	var err error
	for _, step := range rule.Where {
		switch s := step.(type) {
		case ir.QueryStep:
			qfn, ok := e.registry.Query(s.Op)
			if !ok {
				return nil, NewUnknownOperationError(flowToken, rule.ID, string(s.Op))
			}
			fs, err = frames.Query(ctx, fs, frames.QueryFunc(qfn), s.Args, s.Bind, s.Fallback)
		case ir.FilterStep:
			fs, err = frames.Filter(fs, s.Pred)
		case ir.CollectStep:
			fs, err = frames.CollectAs(fs, seed, s.From, s.Into, whenVars(rule)...)
		default:
			err = fmt.Errorf("rule %s: unsupported where step %T", rule.ID, step)
		}
		if err != nil {
			return nil, err
		}
		// No early return on an empty set: a later CollectAs turns zero
		// frames into one summary frame with an empty array.
	}
	return fs, nil
}

// fire journals one (event, rule, binding) firing and enqueues its
// then-clause invocations. Already-journaled firings and per-flow cycles
// are skipped without touching the queue.
func (e *Engine) fire(ctx context.Context, flowToken string, rule ir.Rule, rec *ir.EventRecord, f frames.Frame, queue *invQueue) error {
	bindings := f.Bindings()
	bindingHash, err := ir.BindingHash(bindings)
	if err != nil {
		slog.Error("binding hash failed",
			"rule_id", rule.ID,
			"event_id", rec.ID,
			"error", err,
		)
		return nil
	}

	if e.cycleDetector.WouldCycle(flowToken, rule.ID, bindingHash) {
		slog.Error("cycle detected, firing suppressed",
			"rule_id", rule.ID,
			"event_id", rec.ID,
			"flow_token", flowToken,
			"binding_hash", bindingHash,
		)
		return nil
	}

	firing := store.Firing{
		EventID:     rec.ID,
		RuleID:      rule.ID,
		BindingHash: bindingHash,
		Seq:         e.clock.Next(),
	}

	firingID, inserted, err := e.store.WriteFiring(ctx, firing)
	if err != nil {
		return fmt.Errorf("write firing (rule=%s event=%s): %w", rule.ID, rec.ID, err)
	}
	if !inserted {
		slog.Debug("firing already journaled, skipping",
			"rule_id", rule.ID,
			"event_id", rec.ID,
			"binding_hash", bindingHash,
		)
		return nil
	}

	if err := e.store.WriteProvenanceEdge(ctx, firingID, rec.ID); err != nil {
		return fmt.Errorf("write provenance edge: %w", err)
	}

	// Record only confirmed-new firings so that idempotent replay over
	// an existing journal never trips the detector.
	e.cycleDetector.Record(flowToken, rule.ID, bindingHash)

	slog.Info("rule fired",
		"rule_id", rule.ID,
		"event_id", rec.ID,
		"flow_token", flowToken,
		"seq", firing.Seq,
	)

	for i, then := range rule.Then {
		args, err := f.ResolveArgs(then.Args)
		if err != nil {
			slog.Error("then-clause resolution failed",
				"rule_id", rule.ID,
				"then_index", i,
				"op", then.Op,
				"error", err,
			)
			continue
		}
		queue.push(invocation{op: then.Op, input: args})
	}

	return nil
}

// whenVars returns the variables a rule's when-clause can bind, in
// lexical order. Aggregation keeps these alive on the summary frame so a
// correlation id bound in when survives into the then-clause.
func whenVars(rule ir.Rule) []ir.Var {
	set := make(map[ir.Var]bool)
	for _, p := range rule.When {
		for _, t := range p.Input {
			if v, ok := t.(ir.Var); ok {
				set[v] = true
			}
		}
		for _, t := range p.Output {
			if v, ok := t.(ir.Var); ok {
				set[v] = true
			}
		}
	}
	vars := make([]ir.Var, 0, len(set))
	for v := range set {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	return vars
}
