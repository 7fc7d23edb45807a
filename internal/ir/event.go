package ir

import (
	"fmt"
	"strings"
)

// OpRef is a typed reference to a module operation.
// Format: "module.operation", e.g. "paper.ensure" or "gateway.respond".
type OpRef string

// Split returns the module and operation parts of the reference.
func (r OpRef) Split() (module, operation string) {
	s := string(r)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// Validate checks that the reference has the "module.operation" shape.
func (r OpRef) Validate() error {
	module, operation := r.Split()
	if module == "" || operation == "" {
		return fmt.Errorf("invalid operation reference %q: want \"module.operation\"", string(r))
	}
	return nil
}

// EventRecord is an immutable fact: one completed module operation.
// Created the instant the operation returns, success or error branch alike.
// Records are append-only and never mutated after creation.
type EventRecord struct {
	ID        string `json:"id"`         // Content-addressed hash
	FlowToken string `json:"flow_token"` // Correlation id of the external call
	Op        OpRef  `json:"op"`
	Input     Object `json:"input"`
	Output    Object `json:"output"`
	Seq       int64  `json:"seq"` // Logical clock, never wall time
}

// IsError reports whether the record carries an error-shaped output.
// Mutators return a discriminated union: a success output or {error}.
func (e *EventRecord) IsError() bool {
	_, ok := e.Output[ErrorField]
	return ok
}

// ErrorField is the reserved output field carrying a mutator's error branch.
const ErrorField = "error"
