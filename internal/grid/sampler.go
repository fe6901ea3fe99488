// Package grid samples a 5x5 lattice of current weather values around a
// focal coordinate and classifies each sample into a color band.
package grid

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"weatherdesk/internal/types"
)

// Offsets applied to the focal latitude and longitude, in degrees.
var Offsets = [5]float64{-0.2, -0.1, 0, 0.1, 0.2}

// Size is the number of lattice points.
const Size = len(Offsets) * len(Offsets)

// Lattice returns the 25 sample positions in row-major order, latitude
// outer. Results are matched back to positions by index, so the order is
// part of the contract. Near the poles latitude is clamped to ±90; across
// the antimeridian longitude wraps into [-180, 180].
func Lattice(focal types.Coordinate) []types.Coordinate {
	out := make([]types.Coordinate, 0, Size)
	for _, dLat := range Offsets {
		for _, dLon := range Offsets {
			out = append(out, types.Coordinate{
				Lat: round4(max(-90, min(90, focal.Lat+dLat))),
				Lon: round4(wrapLon(focal.Lon + dLon)),
			})
		}
	}
	return out
}

func wrapLon(lon float64) float64 {
	switch {
	case lon > 180:
		return lon - 360
	case lon < -180:
		return lon + 360
	}
	return lon
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Variable maps a property to the upstream variable name. Unknown
// properties fall back to temperature.
func Variable(property types.Property) string {
	switch property {
	case types.PropertyRH2M:
		return "relative_humidity_2m"
	case types.PropertyWS2M:
		return "wind_speed_10m"
	default:
		return "temperature_2m"
	}
}

// BatchSource performs the single batched lookup for all lattice points.
type BatchSource interface {
	CurrentBatch(ctx context.Context, coords []types.Coordinate, variable string) (json.RawMessage, error)
}

// Sampler produces classified lattice samples.
type Sampler struct {
	source BatchSource
	logger *slog.Logger
}

func NewSampler(source BatchSource, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{source: source, logger: logger}
}

// batchEntry is one element of the batched response array.
type batchEntry struct {
	Current map[string]json.RawMessage `json:"current"`
}

// Sample issues one batched lookup for the lattice around focal. The batch is
// all-or-nothing: a response that is not an array of exactly Size entries,
// each carrying the variable, yields no points and a partial_grid_batch
// error.
func (s *Sampler) Sample(ctx context.Context, focal types.Coordinate, property types.Property) ([]types.GridPoint, error) {
	coords := Lattice(focal)
	variable := Variable(property)

	raw, err := s.source.CurrentBatch(ctx, coords, variable)
	if err != nil {
		return nil, err
	}

	values, reason := zipValues(raw, variable, len(coords))
	if reason != "" {
		s.logger.WarnContext(ctx, "discarding grid batch",
			"reason", reason,
			"variable", variable,
		)
		return nil, types.NewAppErrorWithDetails(types.ErrCodePartialGridBatch,
			"weather batch could not be matched to the grid", nil,
			map[string]any{"reason": reason})
	}

	points := make([]types.GridPoint, len(coords))
	for i, c := range coords {
		points[i] = types.GridPoint{
			Lat:   c.Lat,
			Lon:   c.Lon,
			Value: values[i],
			Band:  ColorOf(property, values[i]),
		}
	}
	return points, nil
}

// zipValues extracts one value per position, or returns a non-empty reason
// when the batch cannot be used.
func zipValues(raw json.RawMessage, variable string, want int) ([]float64, string) {
	var entries []batchEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, "response is not an array"
	}
	if len(entries) != want {
		return nil, "response length mismatch"
	}
	values := make([]float64, want)
	for i, e := range entries {
		var v *float64
		if err := json.Unmarshal(e.Current[variable], &v); err != nil || v == nil {
			return nil, "missing value"
		}
		values[i] = *v
	}
	return values, ""
}
