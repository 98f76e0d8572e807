package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a service failure. Codes map 1:1 onto HTTP
// status codes at the API boundary.
type ErrorCode string

const (
	ErrInvalidInput  ErrorCode = "invalid-input"
	ErrInvalidPatch  ErrorCode = "invalid-patch"
	ErrInvalidCursor ErrorCode = "invalid-cursor"
	ErrInvalidToken  ErrorCode = "invalid-token"
	ErrNotAuthorized ErrorCode = "not-authorized"
	ErrNotFound      ErrorCode = "not-found"
	ErrConflict      ErrorCode = "conflict"
	ErrInternal      ErrorCode = "internal"
)

// ServiceError is the typed error returned by stores and services.
// The Detail field is safe to return to callers; internal causes stay
// in the wrapped error chain.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Detail  string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// HTTPStatus returns the HTTP status code for the error code.
func (e *ServiceError) HTTPStatus() int {
	switch e.Code {
	case ErrInvalidInput, ErrInvalidPatch, ErrInvalidCursor:
		return http.StatusBadRequest
	case ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrNotAuthorized:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a ServiceError with the given code and message.
func NewError(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// WrapError creates a ServiceError wrapping a cause.
func WrapError(code ErrorCode, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// AsServiceError extracts a ServiceError from an error chain. Unknown
// errors are reported as internal.
func AsServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return &ServiceError{Code: ErrInternal, Message: "internal error", Err: err}
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == ErrNotFound
}

// IsConflict reports whether err carries the conflict code.
func IsConflict(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == ErrConflict
}

// IsNotAuthorized reports whether err carries the not-authorized code.
func IsNotAuthorized(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == ErrNotAuthorized
}
