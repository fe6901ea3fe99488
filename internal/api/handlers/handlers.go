// Package handlers maps the /v1 JSON API onto the WeatherDesk services.
//
// Handlers own request parsing and response shaping only. Sessions come from
// core.SessionMiddleware; role checks run as route middleware before a
// handler is reached; business rules live in the access, auth, dashboard,
// forecast and grid packages.
package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"weatherdesk/internal/access"
	"weatherdesk/internal/core"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// Guard is the route middleware the server provides.
type Guard interface {
	RequireSession(next http.Handler) http.Handler
	RequireCapability(c policy.Capability) func(http.Handler) http.Handler
	RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler
}

var _ Guard = (*core.Server)(nil)

// AccessFactory builds the access manager for one request's session. The
// confirmer carries the caller's explicit confirmation flag.
type AccessFactory func(sess *session.Session, confirm access.Confirmer) *access.Manager

// sessionOf returns the request session. Routes are mounted behind
// RequireSession, so a missing session is reported rather than assumed.
func sessionOf(r *http.Request) (*session.Session, error) {
	sess, _, ok := core.SessionFrom(r.Context())
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthSessionMissing, "sign in required", nil)
	}
	return sess, nil
}

// confirmed reads the ?confirm= flag of a destructive request. Anything but
// an explicit true declines.
func confirmed(r *http.Request) access.Confirmed {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return access.Confirmed(ok)
}

func usernameParam(r *http.Request) (string, error) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "username is required", nil)
	}
	return username, nil
}

// coordinateQuery parses ?lat=&lon=. Both absent yields nil; one without the
// other is a missing field.
func coordinateQuery(r *http.Request) (*types.Coordinate, error) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if latStr == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "lat query parameter is required", nil)
	}
	if lonStr == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "lon query parameter is required", nil)
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || !within(lat, 90) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidLat, "lat must be a number between -90 and 90", nil)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || !within(lon, 180) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidLon, "lon must be a number between -180 and 180", nil)
	}
	return &types.Coordinate{Lat: lat, Lon: lon}, nil
}

// within rejects NaN, which ParseFloat accepts.
func within(v, bound float64) bool {
	return v >= -bound && v <= bound
}
