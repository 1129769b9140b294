package common

import (
	"errors"
	"net/http"
)

// Error codes shared by every handler.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeNoValidFiles    = "NO_VALID_FILES"
	CodeStaleState      = "STALE_STATE"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// HasCode reports whether err wraps an AppError carrying code.
func HasCode(err error, code string) bool {
	var target *AppError
	if !errors.As(err, &target) {
		return false
	}
	return target.Code == code
}

// ValidationError reports a bad input shape. Nothing was mutated.
func ValidationError(message string, details any) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest, Details: details}
}

// StaleStateError blocks a transition whose preconditions do not hold. action tells
// the caller what to do before retrying.
func StaleStateError(message, action string) *AppError {
	var details any
	if action != "" {
		details = map[string]string{"action": action}
	}
	return &AppError{Code: CodeStaleState, Message: message, HTTPStatus: http.StatusConflict, Details: details}
}

// ExternalServiceError wraps a failed call to an upstream collaborator.
func ExternalServiceError(service string, err error) *AppError {
	return &AppError{
		Code:       CodeExternalService,
		Message:    service + " unavailable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
		Details:    map[string]any{"service": service, "retryable": true},
	}
}

// UnauthorizedError signals an expired or invalid credential; the session must be logged out.
func UnauthorizedError(message string, err error) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
		Details:    map[string]string{"redirect": "/login"},
	}
}

// NotFoundError reports a missing resource.
func NotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}
