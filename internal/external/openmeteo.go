package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weatherdesk/internal/types"
)

// Variables requested for the dashboard's current-conditions panel.
var currentVariables = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"apparent_temperature",
	"precipitation",
	"rain",
	"weather_code",
	"surface_pressure",
	"wind_speed_10m",
	"wind_direction_10m",
	"visibility",
}

var dailyVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"sunrise",
	"sunset",
	"uv_index_max",
	"precipitation_sum",
}

// HistoryDays is how many past days the conditions lookup includes.
const HistoryDays = 10

// maxBatchBody bounds the size of a batched grid response.
const maxBatchBody = 1 << 20

// Conditions is the decoded point forecast used by the dashboard weather
// panel.
type Conditions struct {
	Latitude     float64           `json:"latitude"`
	Longitude    float64           `json:"longitude"`
	Timezone     string            `json:"timezone"`
	Current      CurrentConditions `json:"current"`
	CurrentUnits map[string]string `json:"current_units"`
	Daily        DailySeries       `json:"daily"`
}

// CurrentConditions mirrors the "current" block for currentVariables.
type CurrentConditions struct {
	Time                string  `json:"time"`
	Temperature         float64 `json:"temperature_2m"`
	RelativeHumidity    float64 `json:"relative_humidity_2m"`
	ApparentTemperature float64 `json:"apparent_temperature"`
	Precipitation       float64 `json:"precipitation"`
	Rain                float64 `json:"rain"`
	WeatherCode         int     `json:"weather_code"`
	SurfacePressure     float64 `json:"surface_pressure"`
	WindSpeed           float64 `json:"wind_speed_10m"`
	WindDirection       float64 `json:"wind_direction_10m"`
	Visibility          float64 `json:"visibility"`
}

// DailySeries holds the per-day arrays, index-aligned with Time.
type DailySeries struct {
	Time             []string  `json:"time"`
	TemperatureMax   []float64 `json:"temperature_2m_max"`
	TemperatureMin   []float64 `json:"temperature_2m_min"`
	Sunrise          []string  `json:"sunrise"`
	Sunset           []string  `json:"sunset"`
	UVIndexMax       []float64 `json:"uv_index_max"`
	PrecipitationSum []float64 `json:"precipitation_sum"`
}

// WeatherClient wraps the Open-Meteo forecast and air-quality APIs.
type WeatherClient struct {
	base          *BaseClient
	forecastURL   string
	airQualityURL string
	logger        *slog.Logger
}

// NewWeatherClient creates a WeatherClient. Open-Meteo is a public API, so
// the client retries politely on 429/5xx.
func NewWeatherClient(httpClient *http.Client, forecastURL, airQualityURL string, logger *slog.Logger) *WeatherClient {
	base := NewBaseClient(
		httpClient,
		"open-meteo",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		directoryUserAgent,
	)
	return NewWeatherClientWithBase(base, forecastURL, airQualityURL, logger)
}

// NewWeatherClientWithBase creates a WeatherClient with a pre-configured
// BaseClient.
func NewWeatherClientWithBase(base *BaseClient, forecastURL, airQualityURL string, logger *slog.Logger) *WeatherClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherClient{
		base:          base,
		forecastURL:   forecastURL,
		airQualityURL: airQualityURL,
		logger:        logger,
	}
}

// CurrentBatch requests the current value of variable at every coordinate in
// one call and returns the raw body. For more than one coordinate Open-Meteo
// answers with a JSON array in request order; interpreting the shape is left
// to the caller.
func (c *WeatherClient) CurrentBatch(ctx context.Context, coords []types.Coordinate, variable string) (json.RawMessage, error) {
	lats := make([]string, len(coords))
	lons := make([]string, len(coords))
	for i, p := range coords {
		lats[i] = formatDegrees(p.Lat)
		lons[i] = formatDegrees(p.Lon)
	}

	q := url.Values{}
	q.Set("latitude", strings.Join(lats, ","))
	q.Set("longitude", strings.Join(lons, ","))
	q.Set("current", variable)

	resp, err := c.get(ctx, c.forecastURL, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBatchBody))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to read weather batch", err)
	}
	return raw, nil
}

// Conditions returns current conditions plus HistoryDays of daily history and
// today's daily values for one coordinate.
func (c *WeatherClient) Conditions(ctx context.Context, at types.Coordinate) (*Conditions, error) {
	q := pointQuery(at)
	q.Set("current", strings.Join(currentVariables, ","))
	q.Set("daily", strings.Join(dailyVariables, ","))
	q.Set("past_days", strconv.Itoa(HistoryDays))
	q.Set("forecast_days", "1")

	resp, err := c.get(ctx, c.forecastURL, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Conditions
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to decode weather conditions", err)
	}
	return &out, nil
}

// AirQuality returns the current US AQI at one coordinate.
func (c *WeatherClient) AirQuality(ctx context.Context, at types.Coordinate) (float64, error) {
	q := pointQuery(at)
	q.Set("current", "us_aqi")

	resp, err := c.get(ctx, c.airQualityURL, q)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Current struct {
			USAQI *float64 `json:"us_aqi"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to decode air quality", err)
	}
	if out.Current.USAQI == nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamWeather, "air quality index missing from response", nil)
	}
	return *out.Current.USAQI, nil
}

func (c *WeatherClient) get(ctx context.Context, endpoint string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create weather request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "weather service unavailable", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Reason string `json:"reason"`
		}
		msg := fmt.Sprintf("weather service returned %d", resp.StatusCode)
		if json.Unmarshal(raw, &payload) == nil && payload.Reason != "" {
			msg = payload.Reason
		}
		c.logger.WarnContext(ctx, "weather service rejected request", "status", resp.StatusCode, "reason", msg)
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamWeather, msg, nil,
			map[string]any{"status": resp.StatusCode})
	}
	return resp, nil
}

func pointQuery(at types.Coordinate) url.Values {
	q := url.Values{}
	q.Set("latitude", formatDegrees(at.Lat))
	q.Set("longitude", formatDegrees(at.Lon))
	return q
}

// formatDegrees renders a coordinate with four decimals, which also hides
// binary rounding noise from offset arithmetic.
func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
