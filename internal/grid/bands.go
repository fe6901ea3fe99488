package grid

import (
	"math"

	"weatherdesk/internal/types"
)

// threshold maps values strictly below Below to Band. The last entry of each
// scale uses an infinite bound.
type threshold struct {
	Below float64
	Band  types.Band
}

var inf = math.Inf(1)

var scales = map[types.Property][]threshold{
	types.PropertyT2M: {
		{10, types.Band{ID: "t2m_cold", Label: "Cold", Color: "#3b82f6"}},
		{20, types.Band{ID: "t2m_mild", Label: "Mild", Color: "#10b981"}},
		{30, types.Band{ID: "t2m_warm", Label: "Warm", Color: "#f59e0b"}},
		{inf, types.Band{ID: "t2m_hot", Label: "Hot", Color: "#ef4444"}},
	},
	types.PropertyRH2M: {
		{30, types.Band{ID: "rh2m_dry", Label: "Dry", Color: "#ef4444"}},
		{60, types.Band{ID: "rh2m_moderate", Label: "Moderate", Color: "#f59e0b"}},
		{80, types.Band{ID: "rh2m_comfortable", Label: "Comfortable", Color: "#10b981"}},
		{inf, types.Band{ID: "rh2m_humid", Label: "Humid", Color: "#3b82f6"}},
	},
	types.PropertyWS2M: {
		{10, types.Band{ID: "ws2m_calm", Label: "Calm", Color: "#10b981"}},
		{25, types.Band{ID: "ws2m_breezy", Label: "Breezy", Color: "#f59e0b"}},
		{50, types.Band{ID: "ws2m_high", Label: "High wind", Color: "#ef4444"}},
		{inf, types.Band{ID: "ws2m_storm", Label: "Storm", Color: "#7f1d1d"}},
	},
}

// DefaultBand is used for properties without a scale.
var DefaultBand = types.Band{ID: "default", Label: "Unclassified", Color: "#3b82f6"}

// ColorOf classifies value on the property's ascending threshold scale.
func ColorOf(property types.Property, value float64) types.Band {
	scale, ok := scales[property]
	if !ok {
		return DefaultBand
	}
	for _, t := range scale {
		if value < t.Below {
			return t.Band
		}
	}
	return scale[len(scale)-1].Band
}

// Legend returns the bands of property in ascending order.
func Legend(property types.Property) []types.Band {
	scale, ok := scales[property]
	if !ok {
		return []types.Band{DefaultBand}
	}
	out := make([]types.Band, len(scale))
	for i, t := range scale {
		out[i] = t.Band
	}
	return out
}
