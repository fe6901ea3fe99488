package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherdesk/internal/types"
)

func TestLattice(t *testing.T) {
	pts := Lattice(types.Coordinate{Lat: 12.0, Lon: 77.0})
	require.Len(t, pts, 25)

	assert.InDelta(t, 11.8, pts[0].Lat, 1e-9)
	assert.InDelta(t, 76.8, pts[0].Lon, 1e-9)
	assert.InDelta(t, 11.8, pts[1].Lat, 1e-9, "latitude is the outer loop")
	assert.InDelta(t, 76.9, pts[1].Lon, 1e-9)
	assert.InDelta(t, 12.0, pts[12].Lat, 1e-9, "center is the focal point")
	assert.InDelta(t, 77.0, pts[12].Lon, 1e-9)
	assert.InDelta(t, 12.2, pts[24].Lat, 1e-9)
	assert.InDelta(t, 77.2, pts[24].Lon, 1e-9)
}

func TestLattice_StaysOnTheGlobe(t *testing.T) {
	pts := Lattice(types.Coordinate{Lat: 89.9, Lon: 179.9})
	require.Len(t, pts, 25)
	for _, p := range pts {
		assert.True(t, p.Lat >= -90 && p.Lat <= 90, "lat %v", p.Lat)
		assert.True(t, p.Lon >= -180 && p.Lon <= 180, "lon %v", p.Lon)
	}
	assert.InDelta(t, 89.7, pts[0].Lat, 1e-9)
	assert.InDelta(t, 179.7, pts[0].Lon, 1e-9)
	assert.InDelta(t, 90.0, pts[24].Lat, 1e-9, "latitude clamps at the pole")
	assert.InDelta(t, -179.9, pts[24].Lon, 1e-9, "longitude wraps at the antimeridian")

	pts = Lattice(types.Coordinate{Lat: -90, Lon: -180})
	assert.InDelta(t, -90.0, pts[0].Lat, 1e-9)
	assert.InDelta(t, 179.8, pts[0].Lon, 1e-9)
}

func TestVariable(t *testing.T) {
	assert.Equal(t, "temperature_2m", Variable(types.PropertyT2M))
	assert.Equal(t, "relative_humidity_2m", Variable(types.PropertyRH2M))
	assert.Equal(t, "wind_speed_10m", Variable(types.PropertyWS2M))
	assert.Equal(t, "temperature_2m", Variable("PRECIP"))
}

func TestColorOf(t *testing.T) {
	tests := []struct {
		property types.Property
		value    float64
		want     string
	}{
		{types.PropertyT2M, -5, "t2m_cold"},
		{types.PropertyT2M, 10, "t2m_mild"},
		{types.PropertyT2M, 29.9, "t2m_warm"},
		{types.PropertyT2M, 30, "t2m_hot"},
		{types.PropertyRH2M, 29, "rh2m_dry"},
		{types.PropertyRH2M, 45, "rh2m_moderate"},
		{types.PropertyRH2M, 79.9, "rh2m_comfortable"},
		{types.PropertyRH2M, 95, "rh2m_humid"},
		{types.PropertyWS2M, 0, "ws2m_calm"},
		{types.PropertyWS2M, 24, "ws2m_breezy"},
		{types.PropertyWS2M, 25, "ws2m_high"},
		{types.PropertyWS2M, 120, "ws2m_storm"},
		{"PRECIP", 3, "default"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.property, tt.value), func(t *testing.T) {
			assert.Equal(t, tt.want, ColorOf(tt.property, tt.value).ID)
		})
	}
}

func TestLegend(t *testing.T) {
	assert.Len(t, Legend(types.PropertyT2M), 4)
	assert.Equal(t, []types.Band{DefaultBand}, Legend("PRECIP"))
}

// --- fake batch source ---

type fakeSource struct {
	body     string
	err      error
	calls    int
	variable string
	coords   []types.Coordinate
}

func (f *fakeSource) CurrentBatch(_ context.Context, coords []types.Coordinate, variable string) (json.RawMessage, error) {
	f.calls++
	f.coords = coords
	f.variable = variable
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

func batchBody(n int, variable string, value func(i int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"latitude":0,"longitude":0,"current":{"time":"2025-06-01T12:00","%s":%s}}`, variable, value(i))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestSample_ZipsPositionally(t *testing.T) {
	src := &fakeSource{body: batchBody(25, "wind_speed_10m", func(i int) string { return fmt.Sprint(i * 3) })}
	s := NewSampler(src, nil)

	pts, err := s.Sample(context.Background(), types.Coordinate{Lat: 12, Lon: 77}, types.PropertyWS2M)
	require.NoError(t, err)
	require.Len(t, pts, 25)

	assert.Equal(t, 1, src.calls, "one batched lookup per sample")
	assert.Equal(t, "wind_speed_10m", src.variable)
	assert.Len(t, src.coords, 25)

	assert.InDelta(t, 11.8, pts[0].Lat, 1e-9)
	assert.Equal(t, 0.0, pts[0].Value)
	assert.Equal(t, "ws2m_calm", pts[0].Band.ID)
	assert.Equal(t, 72.0, pts[24].Value)
	assert.Equal(t, "ws2m_storm", pts[24].Band.ID)
}

func TestSample_DiscardsUnusableBatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"single object", `{"latitude":12,"current":{"temperature_2m":20}}`},
		{"short array", batchBody(24, "temperature_2m", func(int) string { return "20" })},
		{"long array", batchBody(26, "temperature_2m", func(int) string { return "20" })},
		{"null value", batchBody(25, "temperature_2m", func(i int) string {
			if i == 7 {
				return "null"
			}
			return "20"
		})},
		{"wrong variable", batchBody(25, "relative_humidity_2m", func(int) string { return "20" })},
		{"not json", `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler(&fakeSource{body: tt.body}, nil)
			pts, err := s.Sample(context.Background(), types.Coordinate{Lat: 1, Lon: 2}, types.PropertyT2M)
			assert.Empty(t, pts)
			assert.Equal(t, types.ErrCodePartialGridBatch, types.CodeOf(err))
		})
	}
}

func TestSample_UpstreamErrorPassesThrough(t *testing.T) {
	upstream := types.NewAppError(types.ErrCodeUpstreamWeather, "rate limited", nil)
	s := NewSampler(&fakeSource{err: upstream}, nil)

	pts, err := s.Sample(context.Background(), types.Coordinate{}, types.PropertyT2M)
	assert.Nil(t, pts)
	assert.Equal(t, types.ErrCodeUpstreamWeather, types.CodeOf(err))
}

// --- View ---

// gatedSource blocks each call until released, answering with a body whose
// values equal the focal latitude of the request.
type gatedSource struct {
	started chan types.Coordinate
	release chan struct{}
}

func (g *gatedSource) CurrentBatch(ctx context.Context, coords []types.Coordinate, variable string) (json.RawMessage, error) {
	center := coords[Size/2]
	g.started <- center
	select {
	case <-g.release:
	case <-ctx.Done():
		// Ignore cancellation to prove stale results are dropped by tag.
		<-g.release
	}
	return json.RawMessage(batchBody(Size, variable, func(int) string { return fmt.Sprint(center.Lat) })), nil
}

func TestView_DropsStaleResults(t *testing.T) {
	src := &gatedSource{started: make(chan types.Coordinate, 2), release: make(chan struct{})}
	results := make(chan Result, 4)
	v := NewView(NewSampler(src, nil), func(r Result) { results <- r })
	defer v.Close()

	ctx := context.Background()
	first := v.Update(ctx, types.Coordinate{Lat: 10, Lon: 0}, types.PropertyT2M)
	<-src.started
	second := v.Update(ctx, types.Coordinate{Lat: 20, Lon: 0}, types.PropertyT2M)
	<-src.started
	require.Greater(t, second, first)

	// Release both; the first finishes too late to matter.
	src.release <- struct{}{}
	src.release <- struct{}{}

	select {
	case r := <-results:
		assert.Equal(t, second, r.Generation)
		require.NoError(t, r.Err)
		assert.Equal(t, 20.0, r.Points[0].Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}

	v.Close()
	assert.Empty(t, results, "stale generation must never be delivered")

	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, second, latest.Generation)
}

func TestView_CloseAbandonsPending(t *testing.T) {
	src := &gatedSource{started: make(chan types.Coordinate, 1), release: make(chan struct{})}
	delivered := false
	v := NewView(NewSampler(src, nil), func(Result) { delivered = true })

	v.Update(context.Background(), types.Coordinate{Lat: 1, Lon: 1}, types.PropertyT2M)
	<-src.started

	done := make(chan struct{})
	go func() {
		v.Close()
		close(done)
	}()
	src.release <- struct{}{}
	<-done

	assert.False(t, delivered)
	_, ok := v.Latest()
	assert.False(t, ok)
	assert.Zero(t, v.Update(context.Background(), types.Coordinate{}, types.PropertyT2M))
}

func TestView_ErrorResult(t *testing.T) {
	results := make(chan Result, 1)
	v := NewView(NewSampler(&fakeSource{err: errors.New("boom")}, nil), func(r Result) { results <- r })
	defer v.Close()

	v.Update(context.Background(), types.Coordinate{}, types.PropertyRH2M)
	select {
	case r := <-results:
		assert.EqualError(t, r.Err, "boom")
		assert.Empty(t, r.Points)
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}
}
