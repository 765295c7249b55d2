package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRuleNotFound is returned by store operations referencing an unknown rule id
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDispatchBusy is returned by Submit when the event queue is full
	ErrDispatchBusy = errors.New("dispatcher busy: event queue is full")

	// ErrEngineClosed is returned when submitting to an engine that has been closed
	ErrEngineClosed = errors.New("engine closed")

	// ErrUnknownActionType is returned when no handler is registered for an action type
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrInvalidRule is matched by every *ValidationError
	ErrInvalidRule = errors.New("invalid rule")
)

// notFound wraps ErrRuleNotFound with the offending id
func notFound(id string) error {
	return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
}

// ValidationError lists every problem found while validating a rule.
// Warnings do not make a rule invalid; they are carried for the caller to surface.
type ValidationError struct {
	RuleName string
	Problems []string
	Warnings []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	name := e.RuleName
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("invalid rule %q: %s", name, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidRule) hold for validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRule
}

// ActionError describes a failed action attempt
type ActionError struct {
	Index int
	Type  ActionType
	Err   error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Index, e.Type, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
