package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error detected while dispatching a cascade.
//
// Runtime errors cover the guards around rule evaluation - cycles, the
// step quota, references that escaped static analysis - as opposed to
// domain errors, which modules report as an error field on the event
// record and rules branch on.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// FlowToken identifies the affected flow.
	FlowToken string

	// RuleID identifies the rule (for cycle and reference errors).
	RuleID string

	// BindingHash identifies the specific binding (for cycle errors).
	BindingHash string

	// Details carries additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeCycleDetected: the same (rule, binding) would fire twice in
	// one flow.
	ErrCodeCycleDetected RuntimeErrorCode = "CYCLE_DETECTED"

	// ErrCodeQuotaExceeded: the flow passed its max-steps ceiling.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeUnknownOperation: a dispatched operation has no registered
	// mutator, or a where step names an unregistered query.
	ErrCodeUnknownOperation RuntimeErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeUnboundVariable: a then-clause or where-step template
	// references a variable the frame does not bind.
	ErrCodeUnboundVariable RuntimeErrorCode = "UNBOUND_VARIABLE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.FlowToken != "" && e.RuleID != "" {
		return fmt.Sprintf("%s: %s (flow=%s, rule=%s)", e.Code, e.Message, e.FlowToken, e.RuleID)
	}
	if e.FlowToken != "" {
		return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.FlowToken)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCycleError reports whether err is a cycle detection error.
func IsCycleError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeCycleDetected
	}
	return false
}

// IsQuotaError reports whether err is a quota exceeded error.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQuotaExceeded
	}
	return false
}

// NewCycleError creates a RuntimeError for cycle detection.
func NewCycleError(flowToken, ruleID, bindingHash string) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeCycleDetected,
		Message:     "rule would fire same binding twice in flow",
		FlowToken:   flowToken,
		RuleID:      ruleID,
		BindingHash: bindingHash,
	}
}

// NewQuotaError creates a RuntimeError for quota exceeded.
func NewQuotaError(flowToken string, steps, maxSteps int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeQuotaExceeded,
		Message:   fmt.Sprintf("flow exceeded max steps (%d > %d)", steps, maxSteps),
		FlowToken: flowToken,
		Details: map[string]string{
			"steps":     fmt.Sprintf("%d", steps),
			"max_steps": fmt.Sprintf("%d", maxSteps),
		},
	}
}

// NewUnknownOperationError creates a RuntimeError for an unresolvable
// operation reference.
func NewUnknownOperationError(flowToken, ruleID, op string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUnknownOperation,
		Message:   fmt.Sprintf("operation %q is not registered", op),
		FlowToken: flowToken,
		RuleID:    ruleID,
	}
}
