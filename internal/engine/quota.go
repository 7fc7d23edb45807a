package engine

// QuotaEnforcer counts invocations per flow against a hard ceiling.
//
// Each flow gets its own enforcer, checked once per dequeued invocation
// in the dispatch loop. The quota catches linear explosions - long chains
// of distinct firings that never repeat a (rule, binding) pair and so
// slip past the CycleDetector. Together the two guards guarantee every
// cascade terminates.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates an enforcer with the given ceiling.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one step and validates against the ceiling.
// Returns a QUOTA_EXCEEDED RuntimeError once the ceiling is passed.
func (q *QuotaEnforcer) Check(flowToken string) error {
	q.current++
	if q.current > q.maxSteps {
		return NewQuotaError(flowToken, q.current, q.maxSteps)
	}
	return nil
}

// Reset zeroes the step counter.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the ceiling.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}
