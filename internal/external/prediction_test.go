package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherdesk/internal/types"
)

func newTestPredictor(t *testing.T, h http.HandlerFunc) (*PredictionClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(server.Close)
	base := newTestBase(NoRetryPolicy(), WithFinalResponse())
	return NewPredictionClientWithBase(base, server.URL+"/forecast", nil), &calls
}

func TestPredict_Success(t *testing.T) {
	c, calls := newTestPredictor(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 12.5, body["lat"])
		assert.Equal(t, 77.25, body["lon"])
		assert.Equal(t, "RH2M", body["property"])
		w.Write([]byte(`[{"date":"2026-03-02","value":61.2},{"date":"2026-03-01","value":58.0}]`))
	})

	res, err := c.Predict(context.Background(), 12.5, 77.25, types.PropertyRH2M)
	require.NoError(t, err)
	// Server order is preserved even when not chronological.
	assert.Equal(t, types.ForecastResult{{Date: "2026-03-02", Value: 61.2}, {Date: "2026-03-01", Value: 58.0}}, res)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPredict_ServerErrorMessage(t *testing.T) {
	c, calls := newTestPredictor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Not enough data retrieved from NASA API"}`))
	})

	_, err := c.Predict(context.Background(), 1, 2, types.PropertyT2M)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamPrediction, types.CodeOf(err))
	assert.Contains(t, err.Error(), "Not enough data retrieved from NASA API")
	assert.Equal(t, int32(1), calls.Load(), "prediction calls are never retried")
}

func TestPredict_GenericMessageWithoutPayload(t *testing.T) {
	c, _ := newTestPredictor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := c.Predict(context.Background(), 1, 2, types.PropertyWS2M)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamPrediction, appErr.Code)
	assert.Equal(t, "Prediction failed", appErr.Message)
}

func TestPredict_ClientErrorUsesPayload(t *testing.T) {
	c, _ := newTestPredictor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"lat out of range"}`))
	})

	_, err := c.Predict(context.Background(), 1, 2, types.PropertyT2M)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "lat out of range", appErr.Message)
}
