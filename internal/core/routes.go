package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"weatherdesk/internal/types"
)

// defaultRequestTimeout applies when the config leaves RequestTimeout unset.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-CSRF-Token",
}

// MountRoutes registers the global middleware chain, the /v1 API group and
// the top-level probes.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/version", s.HandleVersion)
}

// registerGlobalMiddleware applies middleware in strict order. Recoverer is
// outermost so it sees every panic. The timeout is set before anything does
// work. Metrics wraps routing because it reads the matched route pattern.
// Session resolution never rejects a request; CSRF depends on its result and
// RequireSession on individual routes does the rejecting.
func (s *Server) registerGlobalMiddleware() {
	compress := func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) }
	s.router.Use(
		s.Recoverer,
		ContextTimeoutMiddleware(s.requestTimeout()),
		RequestIDMiddleware,
		s.SecurityHeadersMiddleware,
		RequestLogger(s.Logger, defaultRedactedHeaders),
		cors.Handler(cors.Options{
			AllowedOrigins:   s.corsAllowedOrigins(),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
			MaxAge:           int((24 * time.Hour).Seconds()),
		}),
		compress,
		s.MetricsMiddleware,
		s.SessionMiddleware,
		s.CSRFMiddleware,
	)
}

func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"http://localhost:5173"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one, and
// stores it in the context and the response header. Outbound clients forward
// it to upstream services.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}

// HandleVersion reports build metadata.
func (s *Server) HandleVersion(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{
		"service":     s.Config.Service,
		"environment": s.Config.Environment,
		"version":     s.Config.Build.Version,
		"commit":      s.Config.Build.Commit,
		"build_time":  s.Config.Build.BuildTime,
	}})
}
