package external

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"weatherdesk/internal/types"
)

// genericPredictionFailure is surfaced when a prediction service fails
// without an error payload.
const genericPredictionFailure = "Prediction failed"

type predictionRequest struct {
	Lat      float64        `json:"lat"`
	Lon      float64        `json:"lon"`
	Property types.Property `json:"property"`
}

// PredictionClient calls one prediction service. Each property has its own
// service, so each gets its own client and circuit breaker.
type PredictionClient struct {
	base     *BaseClient
	endpoint string
	logger   *slog.Logger
}

// NewPredictionClient creates a client for the service at endpoint (the full
// forecast URL). Retries are disabled: one user action maps to exactly one
// outbound call.
func NewPredictionClient(httpClient *http.Client, name, endpoint string, logger *slog.Logger) *PredictionClient {
	base := NewBaseClient(httpClient, "predict-"+name, NoRetryPolicy(), directoryUserAgent, WithFinalResponse())
	return NewPredictionClientWithBase(base, endpoint, logger)
}

// NewPredictionClientWithBase creates a PredictionClient with a pre-configured
// BaseClient. The base should carry WithFinalResponse so server error messages
// reach the caller.
func NewPredictionClientWithBase(base *BaseClient, endpoint string, logger *slog.Logger) *PredictionClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionClient{base: base, endpoint: endpoint, logger: logger}
}

// Endpoint returns the URL this client posts to.
func (c *PredictionClient) Endpoint() string {
	return c.endpoint
}

// Predict posts the query and returns the forecast days in server order.
// Any non-2xx answer becomes upstream_prediction_failed with the server's
// "error" field as message when present.
func (c *PredictionClient) Predict(ctx context.Context, lat, lon float64, property types.Property) (types.ForecastResult, error) {
	b, err := json.Marshal(predictionRequest{Lat: lat, Lon: lon, Property: property})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode prediction request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create prediction request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPrediction, genericPredictionFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := genericPredictionFailure
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload errorPayload
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		c.logger.WarnContext(ctx, "prediction service returned error",
			"endpoint", c.endpoint,
			"property", string(property),
			"status", resp.StatusCode,
			"message", msg,
		)
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamPrediction, msg, nil,
			map[string]any{"status": resp.StatusCode})
	}

	var out types.ForecastResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPrediction, genericPredictionFailure, err)
	}
	return out, nil
}
