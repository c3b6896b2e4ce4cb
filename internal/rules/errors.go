// internal/rules/errors.go
package rules

import (
	"fmt"

	"github.com/solatis/endpointrules/internal/types"
)

// ErrNoRulesMatched is returned when every rule falls through.
var ErrNoRulesMatched = types.ErrNoRulesMatched

// LoadError reports a malformed rule-set document.
// Path locates the offending node, e.g. "rules[2].conditions[0].argv[1]".
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load rule-set: %v", e.Err)
	}
	return fmt.Sprintf("load rule-set: %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{types.ErrMalformedRuleSet, e.Err}
}

// TypeError reports a typecheck failure. The rule-set is never usable after one.
type TypeError struct {
	Path     string
	Expr     string
	Expected string
	Actual   string
	Reason   string
	Err      error // specific cause (e.g. types.ErrUnboundReference), may be nil
}

func (e *TypeError) Error() string {
	msg := fmt.Sprintf("type error at %s: %s", e.Path, e.Expr)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(": expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TypeError) Unwrap() []error {
	if e.Err != nil {
		return []error{types.ErrTypeMismatch, e.Err}
	}
	return []error{types.ErrTypeMismatch}
}

// MissingRequiredParameterError reports a required parameter without value or default.
type MissingRequiredParameterError struct {
	Name string
}

func (e *MissingRequiredParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

func (e *MissingRequiredParameterError) Unwrap() error { return types.ErrMissingParameter }

// InvalidParameterError reports an undeclared parameter or a value of the wrong kind.
type InvalidParameterError struct {
	Name   string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Name, e.Reason)
}

func (e *InvalidParameterError) Unwrap() error { return types.ErrInvalidParameter }

// ResolutionError is the outcome of a matched error rule. Message is user-facing.
type ResolutionError struct {
	Message string
}

func (e *ResolutionError) Error() string { return e.Message }

func (e *ResolutionError) Unwrap() error { return types.ErrEndpointError }

// InvariantViolation is the panic value for evaluator defects, such as a
// reference the typechecker should have rejected. It is never returned.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%v: %s", types.ErrInvariantViolation, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return types.ErrInvariantViolation }

func invariant(format string, args ...any) {
	panic(&InvariantViolation{Detail: fmt.Sprintf(format, args...)})
}
