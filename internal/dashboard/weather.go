package dashboard

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"weatherdesk/internal/external"
	"weatherdesk/internal/types"
)

// DefaultLocation is used when the caller supplies no coordinate.
var DefaultLocation = types.Coordinate{Lat: 51.5074, Lon: -0.1278}

// WeatherSource is the weather provider.
type WeatherSource interface {
	Conditions(ctx context.Context, at types.Coordinate) (*external.Conditions, error)
	AirQuality(ctx context.Context, at types.Coordinate) (float64, error)
}

// Report is the weather panel.
type Report struct {
	Location     types.Coordinate           `json:"location"`
	Current      external.CurrentConditions `json:"current"`
	Units        map[string]string          `json:"units,omitempty"`
	DewPoint     float64                    `json:"dew_point"`
	VisibilityKm float64                    `json:"visibility_km"`
	AQI          float64                    `json:"aqi"`
	AQILabel     string                     `json:"aqi_label"`
	AQIElevated  bool                       `json:"aqi_elevated"`
	Today        *DaySummary                `json:"today,omitempty"`
	History      []HistoryPoint             `json:"history"`
}

// DaySummary is today's daily row.
type DaySummary struct {
	Date           string  `json:"date"`
	TemperatureMax float64 `json:"temperature_max"`
	TemperatureMin float64 `json:"temperature_min"`
	Sunrise        string  `json:"sunrise"`
	Sunset         string  `json:"sunset"`
	UVIndexMax     float64 `json:"uv_index_max"`
}

// HistoryPoint is one past day; Temperature is the mean of the daily max
// and min.
type HistoryPoint struct {
	Date        string  `json:"date"`
	Temperature float64 `json:"temperature"`
}

// Weather fetches conditions and air quality concurrently for at, or for
// DefaultLocation when at is nil.
func (l *Loader) Weather(ctx context.Context, src WeatherSource, at *types.Coordinate) (*Report, error) {
	loc := DefaultLocation
	if at != nil {
		loc = *at
	}

	var (
		cond *external.Conditions
		aqi  float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cond, err = src.Conditions(gctx, loc)
		return err
	})
	g.Go(func() error {
		var err error
		aqi, err = src.AirQuality(gctx, loc)
		return err
	})
	if err := g.Wait(); err != nil {
		l.logger.WarnContext(ctx, "failed to load weather", "lat", loc.Lat, "lon", loc.Lon, "error", err)
		return nil, err
	}

	r := &Report{
		Location:     loc,
		Current:      cond.Current,
		Units:        cond.CurrentUnits,
		DewPoint:     DewPoint(cond.Current.Temperature, cond.Current.RelativeHumidity),
		VisibilityKm: cond.Current.Visibility / 1000,
		AQI:          aqi,
		AQILabel:     AQILabel(aqi),
		AQIElevated:  aqi > 100,
	}
	r.History, r.Today = splitDaily(cond.Daily)
	return r, nil
}

// DewPoint approximates the dew point in °C from temperature and relative
// humidity, rounded to one decimal.
func DewPoint(tempC, rh float64) float64 {
	return math.Round((tempC-(100-rh)/5)*10) / 10
}

// AQILabel is the short US AQI description.
func AQILabel(aqi float64) string {
	if aqi < 50 {
		return "Good"
	}
	return "Moderate"
}

// splitDaily separates the past days from today. The series holds
// external.HistoryDays past days followed by today.
func splitDaily(d external.DailySeries) ([]HistoryPoint, *DaySummary) {
	n := min(len(d.Time), len(d.TemperatureMax), len(d.TemperatureMin))

	history := make([]HistoryPoint, 0, external.HistoryDays)
	for i := 0; i < n && i < external.HistoryDays; i++ {
		history = append(history, HistoryPoint{
			Date:        d.Time[i],
			Temperature: (d.TemperatureMax[i] + d.TemperatureMin[i]) / 2,
		})
	}

	if n <= external.HistoryDays {
		return history, nil
	}
	last := n - 1
	today := &DaySummary{
		Date:           d.Time[last],
		TemperatureMax: d.TemperatureMax[last],
		TemperatureMin: d.TemperatureMin[last],
	}
	if last < len(d.Sunrise) {
		today.Sunrise = d.Sunrise[last]
	}
	if last < len(d.Sunset) {
		today.Sunset = d.Sunset[last]
	}
	if last < len(d.UVIndexMax) {
		today.UVIndexMax = d.UVIndexMax[last]
	}
	return history, today
}
