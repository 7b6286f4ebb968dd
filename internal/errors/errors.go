package errors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authentication errors (401xx)
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"

	// Authorization errors (403xx)
	ErrForbidden ErrorCode = "40301"
	ErrNotOwner  ErrorCode = "40302"

	// Resource errors (404xx)
	ErrUserNotFound       ErrorCode = "40401"
	ErrInstantNotFound    ErrorCode = "40402"
	ErrStreamNotFound     ErrorCode = "40403"
	ErrSubmissionNotFound ErrorCode = "40404"
	ErrRouteNotFound      ErrorCode = "40405"

	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"

	// Conflict errors (409xx)
	ErrConflict ErrorCode = "40901"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42902"

	// Server errors (500xx)
	ErrInternalServer ErrorCode = "50001"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// NewErrorResponse wraps an APIError into the response envelope
func NewErrorResponse(err *APIError, requestID string) ErrorResponse {
	return ErrorResponse{Error: *err, RequestID: requestID}
}

// Common errors
var (
	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Message:    "Missing or invalid bearer token",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNotOwnerError = &APIError{
		Code:       ErrNotOwner,
		Message:    "Authenticated identity does not own the sender wallet",
		HTTPStatus: http.StatusForbidden,
	}

	ErrUserNotFoundError = &APIError{
		Code:       ErrUserNotFound,
		Message:    "User not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrInstantNotFoundError = &APIError{
		Code:       ErrInstantNotFound,
		Message:    "Instant transfer not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrStreamNotFoundError = &APIError{
		Code:       ErrStreamNotFound,
		Message:    "Stream not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrSubmissionNotFoundError = &APIError{
		Code:       ErrSubmissionNotFound,
		Message:    "Submission not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRouteNotFoundError = &APIError{
		Code:       ErrRouteNotFound,
		Message:    "Route not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Code:       ErrConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// GetHTTPStatusFromCode derives the HTTP status from the first three digits of a code
func GetHTTPStatusFromCode(code ErrorCode) int {
	if len(code) < 3 {
		return http.StatusInternalServerError
	}
	status := 0
	for _, ch := range code[:3] {
		if ch < '0' || ch > '9' {
			return http.StatusInternalServerError
		}
		status = status*10 + int(ch-'0')
	}
	if http.StatusText(status) == "" {
		return http.StatusInternalServerError
	}
	return status
}
