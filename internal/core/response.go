package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"weatherdesk/internal/types"
)

// maxRequestBodySize bounds JSON request bodies. The largest body the API
// accepts is a login or forecast query, so 64 KiB is generous.
const maxRequestBodySize = 64 << 10

// APIResponse is the success envelope. Meta carries non-blocking warnings
// such as a discarded grid batch.
type APIResponse struct {
	Data any                 `json:"data,omitempty"`
	Meta *types.ResponseMeta `json:"meta,omitempty"`
}

// APIErrorResponse is the error envelope.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes v with status. A value that cannot be encoded becomes a 500
// error envelope instead.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorEnvelope(r, types.ErrCodeInternalUnexpected, "failed to encode response", nil))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error renders err. Application errors keep their code, message and
// details; the wrapped cause is never sent. Anything else is an opaque 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		JSON(w, r, http.StatusInternalServerError,
			errorEnvelope(r, types.ErrCodeInternalUnexpected, "an unexpected error occurred", nil))
		return
	}
	JSON(w, r, appErr.HTTPStatus(), errorEnvelope(r, appErr.Code, appErr.Message, appErr.Details))
}

func errorEnvelope(r *http.Request, code types.ErrorCode, msg string, details map[string]any) APIErrorResponse {
	return APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   msg,
		Details:   details,
		RequestID: types.GetRequestID(r.Context()),
	}}
}

// Warn returns meta carrying the error's code as a warning. Partial-data
// errors are reported this way on an otherwise successful response.
func Warn(err error) *types.ResponseMeta {
	if err == nil {
		return nil
	}
	return &types.ResponseMeta{Warnings: []string{string(types.CodeOf(err))}}
}

// DecodeJSON strictly decodes exactly one JSON value from the body into dst.
// Unknown fields, oversized or empty bodies and trailing values are all
// validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return invalidJSON(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func invalidJSON(err error) *types.AppError {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		mismatch *json.UnmarshalTypeError
	)
	msg := "invalid JSON in request body"
	var details map[string]any

	switch {
	case errors.As(err, &tooLarge):
		msg = "request body is too large"
	case errors.As(err, &syntax):
		msg = "malformed JSON in request body"
	case errors.As(err, &mismatch):
		msg = "invalid value for field"
		details = map[string]any{"field": mismatch.Field, "expected": mismatch.Type.String()}
	case errors.Is(err, io.EOF):
		msg = "request body must not be empty"
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		msg = "unknown field in request body: " + strings.TrimPrefix(err.Error(), "json: unknown field ")
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON, msg, err, details)
}
