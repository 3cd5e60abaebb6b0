package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Upstream error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrModelOverloaded    ErrorCode = "MODEL_OVERLOADED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Resolution and lifecycle error codes
const (
	ErrCodeNoEligibleProvider ErrorCode = "NO_ELIGIBLE_PROVIDER"
	ErrCodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeDisposed           ErrorCode = "OBJECT_DISPOSED"
	ErrCodeInvalidConfig      ErrorCode = "INVALID_CONFIG"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrNoEligibleProvider = NewError(ErrCodeNoEligibleProvider, "no eligible provider")
	ErrModelNotFound      = NewError(ErrCodeModelNotFound, "model not found")
	ErrDisposed           = NewError(ErrCodeDisposed, "object disposed")
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.HTTPStatus != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.HTTPStatus)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether any *Error in the chain has the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewNoEligibleProviderError reports that filtering left no candidate for a model.
func NewNoEligibleProviderError(modelID, reason string) *Error {
	return NewError(ErrCodeNoEligibleProvider,
		fmt.Sprintf("no eligible provider for model %q: %s", modelID, reason))
}

// NewModelNotFoundError reports an unknown model id.
func NewModelNotFoundError(modelID string) *Error {
	return NewError(ErrCodeModelNotFound, fmt.Sprintf("model %q is not configured", modelID))
}

// NewDisposedError reports use of a closed component.
func NewDisposedError(component string) *Error {
	return NewError(ErrCodeDisposed, component+" is closed")
}
