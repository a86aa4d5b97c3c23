// Package apperror defines the domain error taxonomy shared by every layer.
//
// Services return these errors; only the HTTP layer decides which status code
// each one becomes. Every constructor wraps one of the sentinels below so
// callers can branch with errors.Is regardless of how deeply the error was
// wrapped on its way up.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUploadFailed = errors.New("upload failed")
	ErrInternal     = errors.New("internal error")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, never shown to clients
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation on the given key (e.g. an email).
func Conflict(resource, key string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s already exists with %s", resource, key),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is used for missing, invalid or expired credentials.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func UploadFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrUploadFailed,
		Message: "image upload failed",
		Cause:   cause,
	}
}

func Internal(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: message,
		Cause:   cause,
	}
}
