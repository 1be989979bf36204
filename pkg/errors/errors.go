package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the kind of an application error
type ErrorCode string

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind onto an HTTP status
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidTransition, ErrConflict, ErrIdempotencyInProgress:
		return http.StatusConflict
	case ErrTransient:
		return http.StatusServiceUnavailable
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail attaches a detail entry and returns the same error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes
const (
	ErrValidation        ErrorCode = "VALIDATION_ERROR"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrTransient         ErrorCode = "TRANSIENT"
	ErrForbidden         ErrorCode = "FORBIDDEN"
	ErrUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrTooLarge          ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrInternal          ErrorCode = "INTERNAL"

	// ErrIdempotencyInProgress marks a duplicate arriving before the first
	// request with the same key has finished. Retrying later is safe.
	ErrIdempotencyInProgress ErrorCode = "IDEMPOTENCY_IN_PROGRESS"
)

// SlotTakenMessage is shown to callers losing a booking race.
const SlotTakenMessage = "This slot was just booked, please choose another time"

func NewValidation(message string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
	}
}

func NewValidationf(format string, args ...interface{}) *AppError {
	return NewValidation(fmt.Sprintf(format, args...))
}

func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("cannot move appointment from %s to %s", from, to),
		Details: map[string]interface{}{"from": from, "to": to},
	}
}

func NewConflict(err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: SlotTakenMessage,
		Err:     err,
	}
}

func NewTransient(err error) *AppError {
	return &AppError{
		Code:    ErrTransient,
		Message: "temporarily unavailable, retry later",
		Err:     err,
	}
}

func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: message,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// KindOf returns the code of the first AppError in the chain, ErrInternal otherwise
func KindOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && KindOf(err) == code
}

// AsAppError unwraps err into an AppError, wrapping unknown errors as internal
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}
