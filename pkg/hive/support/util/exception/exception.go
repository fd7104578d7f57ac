// Package exception provides the error kinds raised while building and running Hive jobs.
// Every error carries the module where it occurred and, for execution failures,
// the last remote status and reason the engine reported.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies a JobError.
type Kind int

const (
	// KindConfiguration marks a missing or invalid argument, credential, or location.
	KindConfiguration Kind = iota
	// KindValidation marks a malformed job definition or query.
	KindValidation
	// KindRaceCondition marks a submitted job whose steps cannot be found on the cluster.
	KindRaceCondition
	// KindExecutionFailure marks a step that ended FAILED or CANCELLED.
	KindExecutionFailure
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindValidation:
		return "ValidationError"
	case KindRaceCondition:
		return "RaceConditionError"
	case KindExecutionFailure:
		return "ExecutionFailure"
	default:
		return "UnknownError"
	}
}

// Sentinels matched through errors.Is for each Kind.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrValidation       = errors.New("validation error")
	ErrRaceCondition    = errors.New("race condition")
	ErrExecutionFailure = errors.New("execution failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindValidation:
		return ErrValidation
	case KindRaceCondition:
		return ErrRaceCondition
	default:
		return ErrExecutionFailure
	}
}

// JobError is the error type returned by every apiary package.
type JobError struct {
	// Kind classifies the error.
	Kind Kind
	// Module indicates where the error occurred (e.g., "script", "runner", "config").
	Module string
	// Message is a concise description of the error.
	Message string
	// Status is the last cluster or step state observed, if any.
	Status string
	// Reason is the last state-change reason reported by the engine, if any.
	Reason string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// StackTrace is the stack trace at the time of the error.
	StackTrace string
}

func newJobError(kind Kind, module, message string, originalErr error) *JobError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &JobError{
		Kind:        kind,
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		StackTrace:  string(buf[:n]),
	}
}

// NewConfigurationError creates a KindConfiguration error.
func NewConfigurationError(module, message string, originalErr error) *JobError {
	return newJobError(KindConfiguration, module, message, originalErr)
}

// NewConfigurationErrorf creates a KindConfiguration error from a format string.
func NewConfigurationErrorf(module, format string, a ...interface{}) *JobError {
	return newJobError(KindConfiguration, module, fmt.Sprintf(format, a...), nil)
}

// NewValidationError creates a KindValidation error.
func NewValidationError(module, message string, originalErr error) *JobError {
	return newJobError(KindValidation, module, message, originalErr)
}

// NewValidationErrorf creates a KindValidation error from a format string.
func NewValidationErrorf(module, format string, a ...interface{}) *JobError {
	return newJobError(KindValidation, module, fmt.Sprintf(format, a...), nil)
}

// NewRaceConditionError creates a KindRaceCondition error.
func NewRaceConditionError(module, message string) *JobError {
	return newJobError(KindRaceCondition, module, message, nil)
}

// NewExecutionFailure creates a KindExecutionFailure error carrying the last observed status and reason.
func NewExecutionFailure(module, message, status, reason string, originalErr error) *JobError {
	e := newJobError(KindExecutionFailure, module, message, originalErr)
	e.Status = status
	e.Reason = reason
	return e
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *JobError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is the sentinel for this error's Kind.
func (e *JobError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the Kind of the first JobError in err's chain.
func KindOf(err error) (Kind, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind, true
	}
	return 0, false
}

// ExtractErrorMessage returns the Message of a JobError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Message
	}
	return err.Error()
}
