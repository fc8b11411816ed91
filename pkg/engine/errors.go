package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: generator timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a unit state conflict.
	// Examples: concurrent modifications, optimistic locking failures.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid transitions, exhausted balancing, unknown units.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes. Each code maps to one condition of the generation error taxonomy.
const (
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrCodeBalancingExhausted     = "BALANCING_EXHAUSTED"
	ErrCodeGenerationFailed       = "GENERATION_FAILED"
	ErrCodeConstraintViolation    = "CONSTRAINT_VIOLATION"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeArchived               = "ARCHIVED"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code identifies the taxonomy condition for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the unit, book or course ID that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Sentinel errors for errors.Is matching. Matching compares Class and Code only.
var (
	ErrInvalidTransition      = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeInvalidTransition}
	ErrConcurrentModification = &EngineError{Class: ErrorClassConflict, Code: ErrCodeConcurrentModification}
	ErrBalancingExhausted     = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeBalancingExhausted}
	ErrGenerationFailed       = &EngineError{Class: ErrorClassTransient, Code: ErrCodeGenerationFailed}
	ErrConstraintViolation    = &EngineError{Class: ErrorClassTransient, Code: ErrCodeConstraintViolation}
	ErrNotFound               = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}
	ErrValidation             = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeValidation}
	ErrArchived               = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeArchived}
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s",
			e.Class, msg, e.Resource, e.Operation, e.unwrapSuffix())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)%s", e.Class, msg, e.Resource, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, msg, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewInvalidTransitionError reports a violated lifecycle precondition.
func NewInvalidTransitionError(unitID string, from UnitStatus, message string) *EngineError {
	return NewPermanentError(message, nil).
		WithCode(ErrCodeInvalidTransition).
		WithResource(unitID).
		WithDetail("status", string(from))
}

// NewConcurrentModificationError reports a lost optimistic-lock race.
func NewConcurrentModificationError(unitID string, expectedVersion int64) *EngineError {
	return NewConflictError("unit was modified concurrently", nil).
		WithCode(ErrCodeConcurrentModification).
		WithResource(unitID).
		WithDetail("expected_version", expectedVersion)
}

// NewBalancingExhaustedError reports that no eligible option set could be produced.
func NewBalancingExhaustedError(slot SlotKind, message string) *EngineError {
	return NewPermanentError(message, nil).
		WithCode(ErrCodeBalancingExhausted).
		WithOperation(string(slot))
}

// NewNotFoundError reports a missing hierarchy record.
func NewNotFoundError(kind, id string) *EngineError {
	return NewPermanentError(kind+" not found", nil).
		WithCode(ErrCodeNotFound).
		WithResource(id)
}

// NewArchivedError reports an operation on an archived record or one with archived ancestors.
func NewArchivedError(kind, id string) *EngineError {
	return NewPermanentError(kind+" is archived", nil).
		WithCode(ErrCodeArchived).
		WithResource(id)
}

// NewValidationError reports invalid input to a hierarchy or lifecycle operation.
func NewValidationError(message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeValidation)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return classOf(err) == ErrorClassTransient
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return classOf(err) == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return classOf(err) == ErrorClassPermanent
}

// IsInvalidTransition reports whether err carries the INVALID_TRANSITION code.
// Archived units are rejected with ARCHIVED, which is treated as an invalid transition too.
func IsInvalidTransition(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeInvalidTransition || code == ErrCodeArchived
}

// IsConcurrentModification reports whether err carries the CONCURRENT_MODIFICATION code.
func IsConcurrentModification(err error) bool {
	return CodeOf(err) == ErrCodeConcurrentModification
}

// IsBalancingExhausted reports whether err carries the BALANCING_EXHAUSTED code.
func IsBalancingExhausted(err error) bool {
	return CodeOf(err) == ErrCodeBalancingExhausted
}

// IsGenerationFailed reports whether err carries the GENERATION_FAILED code.
func IsGenerationFailed(err error) bool {
	return CodeOf(err) == ErrCodeGenerationFailed
}

// IsConstraintViolation reports whether err carries the CONSTRAINT_VIOLATION code.
func IsConstraintViolation(err error) bool {
	return CodeOf(err) == ErrCodeConstraintViolation
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// CodeOf returns the code of the outermost EngineError in the chain, or "".
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
