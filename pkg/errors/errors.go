package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Pipeline errors
	ErrorTypeConnection  ErrorType = "CONNECTION"
	ErrorTypeProtocol    ErrorType = "PROTOCOL"
	ErrorTypeSequenceGap ErrorType = "SEQUENCE_GAP"
	ErrorTypeSimulation  ErrorType = "SIMULATION"
	ErrorTypeJobPoll     ErrorType = "JOB_POLL"

	// Input and setup errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConfig     ErrorType = "CONFIG"
	ErrorTypeInternal   ErrorType = "INTERNAL"
)

// AppError represents an engine error with enough context to log and branch on
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError of the same type and code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a single detail
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// HTTPStatus maps the error type to a response status for the view API
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeProtocol:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConnection, ErrorTypeJobPoll:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewConnectionError creates a transient transport error
func NewConnectionError(message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeConnection,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// NewProtocolError creates an error for a malformed or inconsistent message
func NewProtocolError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeProtocol,
		Message: message,
	}
}

// SequenceGapError reports a topic whose reorder window expired with a hole in it
type SequenceGapError struct {
	Topic    string
	Expected int64
	Buffered int
	Oldest   int64
	Waited   time.Duration
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("%s: topic %q missing seq %d (%d buffered, oldest %d, waited %s)",
		ErrorTypeSequenceGap, e.Topic, e.Expected, e.Buffered, e.Oldest, e.Waited)
}

// SimulationError reports a body whose state became non-finite and was reset
type SimulationError struct {
	NodeID string
	Field  string
	Value  float64
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("%s: node %q has non-finite %s (%v), reset near center",
		ErrorTypeSimulation, e.NodeID, e.Field, e.Value)
}

// NewJobPollError creates a transient poll failure
func NewJobPollError(jobID string, attempt int, err error) *AppError {
	return (&AppError{
		Type:      ErrorTypeJobPoll,
		Message:   fmt.Sprintf("poll of import job %s failed", jobID),
		Cause:     err,
		Retryable: true,
	}).WithDetail("jobId", jobID).WithDetail("attempt", attempt)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewConfigError creates a configuration error
func NewConfigError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeConfig,
		Message: message,
		Cause:   err,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
	}
}

// Helper functions

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsConnection checks if an error is a connection error
func IsConnection(err error) bool {
	return IsType(err, ErrorTypeConnection)
}

// IsProtocol checks if an error is a protocol error
func IsProtocol(err error) bool {
	return IsType(err, ErrorTypeProtocol)
}

// IsJobPoll checks if an error is a job poll error
func IsJobPoll(err error) bool {
	return IsType(err, ErrorTypeJobPoll)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsSequenceGap checks if an error is a sequence gap
func IsSequenceGap(err error) bool {
	var gap *SequenceGapError
	return errors.As(err, &gap)
}

// IsSimulation checks if an error is a simulation reset
func IsSimulation(err error) bool {
	var sim *SimulationError
	return errors.As(err, &sim)
}

// IsRetryable reports whether the error is worth retrying
func IsRetryable(err error) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Retryable
	}
	return false
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	return (&AppError{Type: ErrorTypeInternal, Message: message}).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
