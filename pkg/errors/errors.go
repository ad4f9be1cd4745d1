package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError into one of the failure families the sync
// engine distinguishes when deciding whether to skip, continue or abort.
type Kind string

const (
	// KindConnection covers transport and authentication failures against a
	// single ECS server. Callers skip that server and continue with others.
	KindConnection Kind = "connection"
	// KindConfiguration covers invalid settings combinations, invalid
	// mapping expressions and forbidden state transitions. Fatal to the
	// triggering call, never retried.
	KindConfiguration Kind = "configuration"
	// KindValidation covers soft, field-scoped input problems. The
	// operation continues with a safe default.
	KindValidation Kind = "validation"
	// KindNotFound covers resources that disappeared between enumeration
	// and fetch. Treated as "skip", not escalated.
	KindNotFound Kind = "not_found"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// AppError provides a structured error that can be rendered to API consumers
// and classified by the sync loops.
type AppError struct {
	Kind       Kind   `json:"kind"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a more specific message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Kind:       KindConfiguration,
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Kind:       KindNotFound,
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Kind:       KindValidation,
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Kind:       KindInternal,
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewConnection builds a connection-kind error for a failed ECS call.
func NewConnection(message string, internal error) *AppError {
	return &AppError{
		Kind:       KindConnection,
		Code:       "ECS_CONNECTION_FAILED",
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Internal:   internal,
	}
}

// NewConfiguration builds a configuration-kind error.
func NewConfiguration(message string) *AppError {
	return &AppError{
		Kind:       KindConfiguration,
		Code:       "INVALID_CONFIGURATION",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// NewValidation builds a soft, field-scoped validation error.
func NewValidation(field, message string) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       "VALIDATION_FAILED",
		Message:    message,
		Field:      field,
		StatusCode: http.StatusBadRequest,
	}
}

// NewNotFound builds a not-found error for a vanished remote resource.
func NewNotFound(message string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// IsKind reports whether err (or anything it wraps) is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

// IsConnection reports whether err is a per-server connection failure.
func IsConnection(err error) bool { return IsKind(err, KindConnection) }

// IsConfiguration reports whether err is an administrator-facing configuration failure.
func IsConfiguration(err error) bool { return IsKind(err, KindConfiguration) }

// IsValidation reports whether err is a soft field-scoped validation failure.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsNotFound reports whether err marks a resource that no longer exists.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }
