package decision

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching across the taxonomy.
var (
	ErrValidation      = errors.New("validation failed")
	ErrStorage         = errors.New("storage failed")
	ErrActionExecution = errors.New("action execution failed")
)

// ValidationError reports malformed or unrecognized input. It is raised
// before any scoring happens.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a ValidationError on field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps a failed audit write or read.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ActionExecutionError wraps the failure of a single executed action.
type ActionExecutionError struct {
	Action string
	Err    error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s: %v", e.Action, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

func (e *ActionExecutionError) Is(target error) bool { return target == ErrActionExecution }

// WarningKind classifies a non-fatal problem reported next to a decision.
type WarningKind string

const (
	WarningStorage WarningKind = "storage"
	WarningAction  WarningKind = "action"
)

// Warning is a collaborator failure that did not invalidate the decision.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// WarningFor converts a collaborator error into a Warning.
func WarningFor(err error) Warning {
	kind := WarningStorage
	if errors.Is(err, ErrActionExecution) {
		kind = WarningAction
	}
	return Warning{Kind: kind, Message: err.Error()}
}
