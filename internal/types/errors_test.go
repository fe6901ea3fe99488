package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestAppErrorErrorFormat verifies the Error() method produces "code: message".
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInvalidLat,
		Message: "lat must be between -90 and 90",
	}

	expected := "validation_invalid_latitude: lat must be between -90 and 90"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := NewAppError(ErrCodeUpstreamDirectory, "directory unavailable", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the wrapped error")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	appErr := NewAppError(ErrCodeAuthInvalidCreds, "invalid credentials", nil)
	wrapped := fmt.Errorf("login: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeAuthInvalidCreds {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeAuthInvalidCreds)
	}
}

func TestCodeOf(t *testing.T) {
	appErr := NewAppError(ErrCodePartialGridBatch, "short batch", nil)

	if got := CodeOf(fmt.Errorf("outer: %w", appErr)); got != ErrCodePartialGridBatch {
		t.Errorf("CodeOf(wrapped) = %q, want %q", got, ErrCodePartialGridBatch)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
	if !IsCode(appErr, ErrCodePartialGridBatch) {
		t.Error("IsCode should match the error's own code")
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidLat, http.StatusBadRequest},
		{ErrCodeValidationInvalidProperty, http.StatusBadRequest},
		{ErrCodeAuthSessionMissing, http.StatusUnauthorized},
		{ErrCodeAuthInvalidCreds, http.StatusUnauthorized},
		{ErrCodePermissionRole, http.StatusForbidden},
		{ErrCodeConfirmationDeclined, http.StatusForbidden},
		{ErrCodeNotFoundUser, http.StatusNotFound},
		{ErrCodeConflictAccessRequested, http.StatusConflict},
		{ErrCodePartialGridBatch, http.StatusOK},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeUpstreamPrediction, http.StatusBadGateway},
		{ErrCodeUpstreamDirectory, http.StatusBadGateway},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
