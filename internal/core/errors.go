package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Document fails its contract shape
	ErrCatTransition ErrorCategory = "transition" // Illegal state-machine edge
	ErrCatState      ErrorCategory = "state"      // Persisted state corruption/conflict
	ErrCatDispatch   ErrorCategory = "dispatch"   // External execution collaborator failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatLease      ErrorCategory = "lease"      // Lease protocol violation
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a contract-shape validation error. Writes carrying
// such a document must be rejected before touching durable storage.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTransition creates an illegal-transition error.
func ErrTransition(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTransition,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a persisted-state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrDispatch creates a recoverable dispatch error.
func ErrDispatch(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatDispatch,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeDispatchTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrLease creates a lease protocol error.
func ErrLease(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatLease,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not-found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// HasCode checks if an error carries a specific domain code.
func HasCode(err error, code string) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == code
	}
	return false
}

// Predefined error codes
const (
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"
	CodeContractViolation  = "CONTRACT_VIOLATION"
	CodeStateCorrupted     = "STATE_CORRUPTED"
	CodeNoValidCheckpoint  = "NO_VALID_CHECKPOINT"
	CodeDispatchTimeout    = "DISPATCH_TIMEOUT"
	CodeDispatchFailed     = "DISPATCH_FAILED"
	CodeLeaseHeld          = "LEASE_HELD"
	CodeLeaseNotFound      = "LEASE_NOT_FOUND"
	CodeLeaseTakenOver     = "LEASE_ALREADY_TAKEN_OVER"
	CodeRunInterrupted     = "RUN_INTERRUPTED"
	CodeRunNotFound        = "RUN_NOT_FOUND"
	CodeInvalidThresholds  = "INVALID_THRESHOLDS"
	CodeStepAlreadyOwned   = "STEP_ALREADY_OWNED"
	CodeReworkLimitReached = "REWORK_LIMIT_REACHED"
)

// ErrInterrupted is the sentinel for a simulated or external interruption
// honored at a node boundary. The CLI maps it to a distinct exit code so
// an interrupted run is distinguishable from an ordinary failure.
var ErrInterrupted = &DomainError{
	Category: ErrCatState,
	Code:     CodeRunInterrupted,
	Message:  "run interrupted at node boundary",
}
