package harness

import "fmt"

// TraceEvent is one journal record reduced to its scenario-visible
// shape: the operation, its logical position, and whether the output
// carried the error branch. Content-addressed ids stay out because a
// golden file has to be writable by hand.
type TraceEvent struct {
	Op    string `json:"op"`
	Seq   int64  `json:"seq"`
	Error bool   `json:"error,omitempty"`
}

// Result captures a scenario execution: the journal trace, the
// response body of each call, and any expectation or assertion
// failures.
type Result struct {
	ScenarioName string
	Pass         bool
	Trace        []TraceEvent
	Responses    []map[string]any
	Errors       []string
}

// NewResult creates a Result that passes until an error is added.
func NewResult(name string) *Result {
	return &Result{ScenarioName: name, Pass: true}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
