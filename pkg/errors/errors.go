package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
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

// Domain errors exposed to the rest of the application.
var (
	// ErrNotificationNotFound signals the notification does not exist or is cancelled.
	ErrNotificationNotFound = &AppError{
		Code:       "notification.not_found",
		Message:    "Notification not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrUpdateConflict signals a status-conditional write matched zero rows.
	// The record was concurrently transitioned or is not in the required state.
	ErrUpdateConflict = &AppError{
		Code:       "notification.update_conflict",
		Message:    "Failed to update notification, it may have already been sent",
		StatusCode: http.StatusConflict,
	}

	// ErrCancelConflict signals cancellation of a notification that is no longer pending.
	ErrCancelConflict = &AppError{
		Code:       "notification.cancel_conflict",
		Message:    "Failed to cancel notification, it is no longer pending",
		StatusCode: http.StatusConflict,
	}

	// ErrUserNotFound signals the destination user is missing or inactive.
	ErrUserNotFound = &AppError{
		Code:       "notification.user_not_found",
		Message:    "User not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
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
