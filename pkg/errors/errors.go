package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes used across the SDK
const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// Network errors
	ErrCodeInvalidEndpoint ErrorCode = "INVALID_ENDPOINT"
	ErrCodeInvalidResponse ErrorCode = "INVALID_RESPONSE"
	ErrCodeUnknownResponse ErrorCode = "UNKNOWN_RESPONSE"
	ErrCodeUnexpected      ErrorCode = "UNEXPECTED"
	ErrCodeDecodeFailed    ErrorCode = "DECODE_FAILED"

	// Authenticator errors
	ErrCodeMissingAuthenticator ErrorCode = "MISSING_AUTHENTICATOR"
	ErrCodeMissingProject       ErrorCode = "MISSING_PROJECT"

	// Dev backend errors
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidCode       ErrorCode = "INVALID_CODE"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code       ErrorCode              // Unique error code
	Message    string                 // Human-readable error message
	StatusCode int                    // HTTP status of the response, 0 when none was received
	Details    map[string]interface{} // Optional additional details
	Err        error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the status a server should answer with for this error.
// Errors carrying a received status report it unchanged.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an existing error with code and formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// InvalidResponse reports a non-2xx HTTP response. The raw body is kept
// under the "body" detail.
func InvalidResponse(statusCode int, body []byte) *Error {
	e := &Error{
		Code:       ErrCodeInvalidResponse,
		Message:    fmt.Sprintf("statusCode: %d", statusCode),
		StatusCode: statusCode,
	}
	if len(body) > 0 {
		e.WithDetail("body", string(body))
	}
	return e
}

// Unexpected wraps a failure that happened before or around a request
func Unexpected(err error) *Error {
	return Wrap(err, ErrCodeUnexpected, "unexpected error")
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetDetails extracts the details from an error
// Returns nil if the error is not a structured Error
func GetDetails(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// StatusCode returns the HTTP status carried by an invalid response error, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCodeInvalidResponse {
		return e.StatusCode
	}
	return 0
}

// IsAuthorizationFailure reports whether err is an invalid response with
// status 401 or 403.
func IsAuthorizationFailure(err error) bool {
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidInput, ErrCodeInvalidCode, ErrCodeDecodeFailed:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized

	// 404 Not Found
	case ErrCodeNotFound:
		return http.StatusNotFound

	// 429 Too Many Requests
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 502 Bad Gateway
	case ErrCodeInvalidResponse, ErrCodeUnknownResponse:
		return http.StatusBadGateway

	// 500 Internal Server Error (default)
	case ErrCodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// NotFound creates a "not found" error
func NotFound(resourceType, identifier string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resourceType, identifier)
}

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

// Unauthorized creates an "unauthorized" error
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// RateLimitExceeded creates a "rate limit exceeded" error
func RateLimitExceeded(retryAfter string) *Error {
	err := New(ErrCodeRateLimitExceeded, "rate limit exceeded")
	if retryAfter != "" {
		err.WithDetail("retry_after", retryAfter)
	}
	return err
}
