package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrModelNotAllowed ErrorCode = "MODEL_NOT_ALLOWED"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrForbidden       ErrorCode = "FORBIDDEN"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrNotFound        ErrorCode = "NOT_FOUND"
)

// Upstream error codes
const (
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	ErrStreamConsumption  ErrorCode = "STREAM_CONSUMPTION"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Internal error codes
const (
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
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
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
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

// IsRetryable checks if an error is retryable. Wrapped errors are inspected too.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewInvalidRequestError is a 400 with code INVALID_REQUEST.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewTransportError wraps a failure to reach the upstream service.
func NewTransportError(provider string, cause error) *Error {
	return NewError(ErrUpstreamError, "upstream request failed").
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider)
}

// NewMalformedResponseError reports an upstream body with an unexpected shape.
func NewMalformedResponseError(provider string, cause error) *Error {
	return NewError(ErrMalformedResponse, "unexpected upstream response format").
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(provider)
}

// NewStreamConsumptionError reports a failure while reading the primary stream.
func NewStreamConsumptionError(cause error) *Error {
	return NewError(ErrStreamConsumption, "stream consumption failed").WithCause(cause)
}

// WrapContextError converts context expiry into a TIMEOUT error and leaves
// everything else untouched.
func WrapContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrUpstreamTimeout, "upstream call timed out").
			WithCause(err).
			WithHTTPStatus(http.StatusGatewayTimeout)
	}
	return err
}
