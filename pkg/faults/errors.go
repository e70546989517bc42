// Package faults defines the classified error type shared by the flowsheet,
// thermodynamic dispatch and PVT packages.
package faults

import (
	"errors"
	"fmt"
)

// Class represents the classification of an error for recovery decisions.
type Class string

const (
	// ClassFlash indicates the thermodynamic engine failed to solve a flash.
	// Recoverable: callers may retry with different conditions or record the
	// failure and continue.
	ClassFlash Class = "flash"

	// ClassUnconverged indicates the recycle loop hit its iteration cap. The
	// last iterate stays readable on the process.
	ClassUnconverged Class = "unconverged_recycle"

	// ClassConfiguration indicates a flowsheet that cannot be built or run:
	// duplicate names, missing inlets, invalid fractions, ordering violations.
	ClassConfiguration Class = "configuration"

	// ClassPhaseAbsent indicates an explicit phase accessor was called for a
	// phase that does not exist in the current equilibrium state.
	ClassPhaseAbsent Class = "phase_absent"
)

// Error represents a classified error with context.
type Error struct {
	// Class is the error classification.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Unit is the name of the equipment node involved, if any.
	Unit string `json:"unit,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	switch {
	case e.Unit != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (unit=%s, operation=%s)", e.Class, msg, e.Unit, e.Operation)
	case e.Unit != "":
		return fmt.Sprintf("[%s] %s (unit=%s)", e.Class, msg, e.Unit)
	case e.Operation != "":
		return fmt.Sprintf("[%s] %s (operation=%s)", e.Class, msg, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class and, when the target carries one, code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Class != t.Class {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// NewFlashError creates a flash failure.
func NewFlashError(message string, err error) *Error {
	return &Error{Class: ClassFlash, Message: message, Err: err, Code: ErrCodeFlashFailed}
}

// NewUnconvergedError creates a recycle non-convergence error.
func NewUnconvergedError(message string, err error) *Error {
	return &Error{Class: ClassUnconverged, Message: message, Err: err, Code: ErrCodeIterationCap}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{Class: ClassConfiguration, Message: message, Err: err}
}

// NewPhaseAbsentError creates a phase-absent error for the given phase tag.
func NewPhaseAbsentError(phase string) *Error {
	return (&Error{
		Class:   ClassPhaseAbsent,
		Message: fmt.Sprintf("phase %q is not present", phase),
		Code:    ErrCodePhaseAbsent,
	}).WithDetail("phase", phase)
}

// WithUnit adds equipment context to an error.
func (e *Error) WithUnit(name string) *Error {
	e.Unit = name
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first classified error in the chain, or
// the empty class.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsFlash returns true if the error is a flash failure.
func IsFlash(err error) bool {
	return ClassOf(err) == ClassFlash
}

// IsUnconverged returns true if the error reports an unconverged recycle.
func IsUnconverged(err error) bool {
	return ClassOf(err) == ClassUnconverged
}

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool {
	return ClassOf(err) == ClassConfiguration
}

// IsPhaseAbsent returns true if the error reports a missing phase.
func IsPhaseAbsent(err error) bool {
	return ClassOf(err) == ClassPhaseAbsent
}

// IsRecoverable returns true for errors a caller can reasonably record and
// continue past: flash failures and absent phases.
func IsRecoverable(err error) bool {
	c := ClassOf(err)
	return c == ClassFlash || c == ClassPhaseAbsent
}

// Common error codes.
const (
	ErrCodeFlashFailed       = "FLASH_FAILED"
	ErrCodeInvalidSpec       = "INVALID_FLASH_SPEC"
	ErrCodeUnknownUnit       = "UNKNOWN_UNIT"
	ErrCodeIterationCap      = "ITERATION_CAP"
	ErrCodeDuplicateName     = "DUPLICATE_NAME"
	ErrCodeMissingInlet      = "MISSING_INLET"
	ErrCodeInvalidFraction   = "INVALID_FRACTION"
	ErrCodeOrdering          = "ORDERING_VIOLATION"
	ErrCodeCycle             = "UNBROKEN_CYCLE"
	ErrCodeUnknownComponent  = "UNKNOWN_COMPONENT"
	ErrCodeUnknownModel      = "UNKNOWN_MODEL"
	ErrCodeUnknownEquipment  = "UNKNOWN_EQUIPMENT"
	ErrCodeInvalidParameter  = "INVALID_PARAMETER"
	ErrCodePhaseAbsent       = "PHASE_ABSENT"
	ErrCodeAlreadyRegistered = "ALREADY_REGISTERED"
)
