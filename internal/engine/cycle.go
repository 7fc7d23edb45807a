package engine

import "sync"

// CycleDetector tracks rule firings per flow to break infinite loops.
//
// A cycle is the same (rule_id, binding_hash) pair firing twice within a
// single flow - the signature of a self-referential or mutually recursive
// rule pair that static analysis could not rule out (the cycle may only
// close for particular data).
//
// Distinct from the journal's firing idempotency:
//   - Idempotency: "has this (event, rule, binding) triple fired?" -
//     persistent, absorbs crash/replay duplicates
//   - Cycle detection: "has this (rule, binding) fired in this flow?" -
//     in-memory, stops live loops
type CycleDetector struct {
	mu      sync.Mutex
	history map[string]map[string]bool // flow token -> "rule:hash" -> fired
}

// NewCycleDetector creates an empty detector.
func NewCycleDetector() *CycleDetector {
	return &CycleDetector{
		history: make(map[string]map[string]bool),
	}
}

// WouldCycle reports whether (ruleID, bindingHash) has already fired in
// this flow.
func (c *CycleDetector) WouldCycle(flowToken, ruleID, bindingHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[flowToken] == nil {
		return false
	}
	return c.history[flowToken][ruleID+":"+bindingHash]
}

// Record marks (ruleID, bindingHash) as fired in this flow.
//
// Call after the firing row is confirmed inserted, not before: a firing
// absorbed by idempotency must not poison a later legitimate replay.
func (c *CycleDetector) Record(flowToken, ruleID, bindingHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[flowToken] == nil {
		c.history[flowToken] = make(map[string]bool)
	}
	c.history[flowToken][ruleID+":"+bindingHash] = true
}

// Clear drops all history for a flow. Called when a flow reaches its
// terminal state so the map does not grow without bound.
func (c *CycleDetector) Clear(flowToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.history, flowToken)
}

// HistorySize returns the number of flows with tracked history.
func (c *CycleDetector) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.history)
}

// FlowHistorySize returns the number of (rule, binding) pairs tracked
// for one flow.
func (c *CycleDetector) FlowHistorySize(flowToken string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[flowToken] == nil {
		return 0
	}
	return len(c.history[flowToken])
}
