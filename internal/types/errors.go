package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode identifies a failure. Its prefix up to the first underscore
// selects the HTTP status; see statusByPrefix.
type ErrorCode string

const (
	// Validation (400)
	ErrCodeValidationInvalidLat      ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon      ErrorCode = "validation_invalid_longitude"
	ErrCodeValidationInvalidProperty ErrorCode = "validation_invalid_property"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidValue    ErrorCode = "validation_invalid_value"
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthSessionMissing ErrorCode = "auth_session_missing"
	ErrCodeAuthInvalidCreds   ErrorCode = "auth_invalid_credentials"
	ErrCodeAuthUnknownRole    ErrorCode = "auth_unknown_role"
	ErrCodeAuthSignupRejected ErrorCode = "auth_signup_rejected"
	ErrCodeAuthThrottled      ErrorCode = "auth_too_many_attempts"

	// Permission (403)
	ErrCodePermissionRole       ErrorCode = "permission_role_insufficient"
	ErrCodePermissionFeature    ErrorCode = "permission_feature_not_granted"
	ErrCodePermissionProtected  ErrorCode = "permission_protected_account"
	ErrCodeConfirmationDeclined ErrorCode = "permission_confirmation_declined"
	ErrCodePermissionCSRF       ErrorCode = "permission_csrf_invalid"

	// Not Found (404)
	ErrCodeNotFoundUser ErrorCode = "not_found_user"

	// Conflict (409)
	ErrCodeConflictAccessRequested ErrorCode = "conflict_access_already_requested"
	ErrCodeConflictAccessApproved  ErrorCode = "conflict_access_already_approved"
	ErrCodeConflictAccessNotActive ErrorCode = "conflict_access_not_approved"

	// Rate limiting (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Partial data (200 with warning)
	ErrCodePartialGridBatch ErrorCode = "partial_grid_batch"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamDirectory   ErrorCode = "upstream_directory_failure"
	ErrCodeUpstreamPrediction  ErrorCode = "upstream_prediction_failed"
	ErrCodeUpstreamWeather     ErrorCode = "upstream_weather_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

var statusByPrefix = map[string]int{
	"validation": http.StatusBadRequest,
	"auth":       http.StatusUnauthorized,
	"permission": http.StatusForbidden,
	"not":        http.StatusNotFound,
	"conflict":   http.StatusConflict,
	"rate":       http.StatusTooManyRequests,
	"partial":    http.StatusOK,
	"upstream":   http.StatusBadGateway,
	"internal":   http.StatusInternalServerError,
}

// HTTPStatus is the response status for c; unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	prefix, _, _ := strings.Cut(string(c), "_")
	if status, ok := statusByPrefix[prefix]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError is the error type every package returns across its API. Err is
// the cause kept for logs and errors.Is; it is never rendered to clients.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
