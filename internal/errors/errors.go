// Package errors provides the typed failures returned by services and their HTTP mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

// ErrorType is the category of a failure.
type ErrorType string

const (
	TypeValidation   ErrorType = "validation"
	TypeNotFound     ErrorType = "not_found"
	TypeConflict     ErrorType = "conflict"
	TypeForbidden    ErrorType = "forbidden"
	TypeUnauthorized ErrorType = "unauthorized"
	TypeRateLimited  ErrorType = "rate_limited"
	TypeInternal     ErrorType = "internal"
)

// Error is a structured error with type, message, cause and context fields.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeForbidden:
		return http.StatusForbidden
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WithField adds a context field (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

func ForbiddenError(message string) *Error {
	return newError(TypeForbidden, message, nil)
}

func UnauthorizedError(message string) *Error {
	return newError(TypeUnauthorized, message, nil)
}

func RateLimitedError(message string) *Error {
	return newError(TypeRateLimited, message, nil)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	resp := ErrorResponse{Error: e.Message, Type: e.Type}
	// internal 错误不向客户端暴露上下文
	if e.Type != TypeInternal && len(e.Context) > 0 {
		resp.Context = e.Context
	}
	return resp
}

// AsStructuredError converts any error into an *Error. Non-structured errors
// become internal errors.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}
	return InternalError("internal server error", err)
}

// Is reports whether err is a structured error of type t.
func Is(err error, t ErrorType) bool {
	var structuredErr *Error
	return errors.As(err, &structuredErr) && structuredErr.Type == t
}

// FromDB translates gorm errors: record-not-found becomes NotFound(notFoundMsg),
// duplicate-key becomes Conflict, anything else is internal.
func FromDB(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFoundError(notFoundMsg)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return newError(TypeConflict, "resource already exists", err)
	default:
		var structuredErr *Error
		if errors.As(err, &structuredErr) {
			return structuredErr
		}
		return InternalError("database error", err)
	}
}
