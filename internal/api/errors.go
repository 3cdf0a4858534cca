// errors.go - Structured error handling for API responses
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/incapacidades/backend/internal/backend"
	"github.com/incapacidades/backend/internal/session"
	"github.com/incapacidades/backend/internal/wizard"
)

// IncludeErrorDetails controls whether unexpected errors expose their text.
var IncludeErrorDetails = true

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Field:   field,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// NewBackendError creates an error that carries the HR backend's message as-is
func NewBackendError(status int, message string) *APIError {
	return &APIError{
		Status:  status,
		Code:    "BACKEND_ERROR",
		Message: message,
	}
}

// toAPIError maps domain errors from the wizard packages onto HTTP errors.
func toAPIError(err error, sessionID string) *APIError {
	var (
		apiErr        *APIError
		validationErr *session.ValidationError
		transitionErr *wizard.TransitionError
		backendErr    *backend.Error
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &validationErr):
		return NewValidationError(validationErr.Field, validationErr.Message)
	case errors.Is(err, session.ErrSessionNotFound):
		return NewNotFoundError("session", sessionID)
	case errors.Is(err, session.ErrDocumentNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, session.ErrTooManySessions):
		return NewServiceUnavailableError(err.Error())
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrSubmitting):
		return NewConflictError(err.Error())
	case errors.As(err, &transitionErr):
		e := NewConflictError(err.Error())
		e.Code = "INVALID_STEP"
		return e
	case errors.As(err, &backendErr):
		status := backendErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return NewBackendError(status, backendErr.Message)
	case errors.Is(err, backend.ErrConnection), errors.Is(err, backend.ErrNoBaseURL):
		e := NewServiceUnavailableError(backend.ErrConnection.Error())
		e.Code = "BACKEND_UNAVAILABLE"
		return e
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Status: http.StatusGatewayTimeout, Code: "TIMEOUT", Message: "request timed out"}
	}

	e := NewInternalError("An unexpected error occurred", nil)
	e.Code = "UNKNOWN_ERROR"
	if IncludeErrorDetails {
		e.Details = err.Error()
	}
	return e
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	} else {
		apiErr = toAPIError(err, c.Param("sessionId"))
	}

	if apiErr.Status >= http.StatusInternalServerError {
		fmt.Printf("[API] %s %s -> %d %s: %s\n", c.Request().Method, c.Request().URL.Path, apiErr.Status, apiErr.Code, apiErr.Message)
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}

