package core

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"weatherdesk/internal/types"
)

// RateLimitStore abstracts the counter backing RateLimit.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and
	// reports whether it is still within limit for the current window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimit bounds how often one user may hit the wrapped route. It is meant
// for expensive upstream calls such as model inference. The key is the
// session username plus the route pattern.
//
// A nil store, a non-positive limit or an anonymous request passes through.
// Store errors fail open.
func (s *Server) RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := types.GetIdentity(r.Context())
			if s.RateLimitStore == nil || limit <= 0 || !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := id.Username + ":" + routePattern(r)
			result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, window)
			if err != nil {
				s.Logger.ErrorContext(r.Context(), "rate limit store error",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, limit, result)

			if !result.Allowed {
				s.Logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("username", id.Username),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				Error(w, r, types.NewAppError(types.ErrCodeRateLimit,
					"Rate limit exceeded. Please retry after the reset time.", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// MemoryRateLimitStore is a fixed-window counter held in process memory.
// Under Lambda each instance counts separately, which makes the limit a
// per-instance ceiling.
type MemoryRateLimitStore struct {
	clock types.Clock

	mu        sync.Mutex
	windows   map[string]*rateWindow
	nextSweep time.Time
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimitStore(clock types.Clock) *MemoryRateLimitStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryRateLimitStore{clock: clock, windows: make(map[string]*rateWindow)}
}

func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.sweep(now, window)

	wnd, ok := m.windows[key]
	if !ok || !now.Before(wnd.resetAt) {
		wnd = &rateWindow{resetAt: now.Add(window)}
		m.windows[key] = wnd
	}
	wnd.count++

	remaining := limit - wnd.count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   wnd.count <= limit,
		Remaining: remaining,
		ResetAt:   wnd.resetAt,
	}, nil
}

// sweep drops expired windows, at most once per window length, so idle keys
// do not accumulate.
func (m *MemoryRateLimitStore) sweep(now time.Time, window time.Duration) {
	if now.Before(m.nextSweep) {
		return
	}
	for key, wnd := range m.windows {
		if !now.Before(wnd.resetAt) {
			delete(m.windows, key)
		}
	}
	m.nextSweep = now.Add(window)
}

// Len reports how many windows are tracked.
func (m *MemoryRateLimitStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
