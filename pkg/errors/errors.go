// Package errors defines the tagged error taxonomy shared by every
// component of the liquidation service. Every domain and infrastructure
// error funnels through AppError, so the retry loop and the HTTP boundary
// each consult one Retryable/HTTPStatus switch instead of re-deriving
// policy from error strings.
package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// ErrorType represents one of the kinds from the error taxonomy.
type ErrorType string

const (
	ErrorTypeValidation           ErrorType = "validation"
	ErrorTypeIdempotencyDuplicate ErrorType = "idempotency_duplicate"
	ErrorTypeAlreadyExists        ErrorType = "already_exists"
	ErrorTypeNotFound             ErrorType = "not_found"
	ErrorTypeBorrowerMismatch     ErrorType = "borrower_mismatch"
	ErrorTypeTerminal             ErrorType = "terminal"
	ErrorTypeStateConflict        ErrorType = "state_conflict"
	ErrorTypeConflict             ErrorType = "conflict"
	ErrorTypeVenueRejected        ErrorType = "venue_rejected"
	ErrorTypeTransient            ErrorType = "transient"
	ErrorTypeBusPublishFailure    ErrorType = "bus_publish_failure"
	ErrorTypeFatal                ErrorType = "fatal"
)

// ErrorSeverity ranks how loudly an error should be logged.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the structured error type that crosses component boundaries.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	Message    string                 `json:"message"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Operation  string                 `json:"operation,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	LoanID     string                 `json:"loan_id,omitempty"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter *time.Duration         `json:"retry_after,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) Is(target error) bool {
	appErr, ok := target.(*AppError)
	return ok && e.Type == appErr.Type
}

// HTTPStatus maps the error kind onto the status code the HTTP boundary
// should surface for it.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeIdempotencyDuplicate, ErrorTypeAlreadyExists, ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation, ErrorTypeBorrowerMismatch, ErrorTypeTerminal, ErrorTypeStateConflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithOperation(operation string) *AppError {
	e.Operation = operation
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func (e *AppError) WithLoanID(loanID string) *AppError {
	e.LoanID = loanID
	return e
}

func (e *AppError) WithRetryAfter(delay time.Duration) *AppError {
	e.RetryAfter = &delay
	return e
}

// New creates an AppError of the given type.
func New(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Severity:  severityFor(errorType),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableFor(errorType),
	}
}

// NewWithCause creates an AppError wrapping an underlying cause.
func NewWithCause(errorType ErrorType, message string, cause error) *AppError {
	err := New(errorType, message)
	err.Cause = cause
	err.StackTrace = captureStackTrace()
	return err
}

// Wrap wraps an existing error with an error type and message. If err is
// already an AppError its cause chain is preserved.
func Wrap(err error, errorType ErrorType, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return NewWithCause(errorType, message, appErr)
	}
	return NewWithCause(errorType, message, err)
}

// Common constructors, one per taxonomy kind named in §7.

func NewValidation(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewIdempotencyDuplicate(requestID string) *AppError {
	return New(ErrorTypeIdempotencyDuplicate, "requestId already processed").WithRequestID(requestID)
}

func NewAlreadyExists(loanID string) *AppError {
	return New(ErrorTypeAlreadyExists, fmt.Sprintf("loan %q already exists", loanID)).WithLoanID(loanID)
}

func NewNotFound(loanID string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("loan %q not found", loanID)).WithLoanID(loanID)
}

func NewBorrowerMismatch(loanID string) *AppError {
	return New(ErrorTypeBorrowerMismatch, "borrower does not match loan").WithLoanID(loanID)
}

func NewTerminal(loanID string) *AppError {
	return New(ErrorTypeTerminal, "loan is in a terminal state").WithLoanID(loanID)
}

func NewStateConflict(loanID, from, to string) *AppError {
	return New(ErrorTypeStateConflict, fmt.Sprintf("cannot transition from %s to %s", from, to)).WithLoanID(loanID)
}

func NewConflict(loanID, message string) *AppError {
	return New(ErrorTypeConflict, message).WithLoanID(loanID)
}

func NewVenueRejected(venue string, cause error) *AppError {
	return NewWithCause(ErrorTypeVenueRejected, fmt.Sprintf("venue %s rejected the order", venue), cause).
		WithContext("venue", venue)
}

func NewTransient(operation string, cause error) *AppError {
	return NewWithCause(ErrorTypeTransient, fmt.Sprintf("transient failure during %s", operation), cause).
		WithOperation(operation)
}

func NewBusPublishFailure(loanID string, cause error) *AppError {
	return NewWithCause(ErrorTypeBusPublishFailure, "failed to publish event", cause).WithLoanID(loanID)
}

func NewFatal(message string, cause error) *AppError {
	return NewWithCause(ErrorTypeFatal, message, cause)
}

func severityFor(t ErrorType) ErrorSeverity {
	switch t {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeIdempotencyDuplicate:
		return SeverityLow
	case ErrorTypeConflict, ErrorTypeAlreadyExists, ErrorTypeBorrowerMismatch, ErrorTypeTerminal, ErrorTypeStateConflict:
		return SeverityMedium
	case ErrorTypeVenueRejected, ErrorTypeTransient, ErrorTypeBusPublishFailure:
		return SeverityHigh
	case ErrorTypeFatal:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

func retryableFor(t ErrorType) bool {
	switch t {
	case ErrorTypeVenueRejected, ErrorTypeTransient, ErrorTypeBusPublishFailure:
		return true
	default:
		return false
	}
}

// Retryable reports whether err should be retried by C4. Errors that are
// not AppErrors are never retried.
func Retryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return false
}

// As extracts *AppError from err, if it is one.
func As(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var trace string
	for {
		frame, more := frames.Next()
		trace += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return trace
}
