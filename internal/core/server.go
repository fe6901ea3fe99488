// Package core provides the HTTP chassis for the WeatherDesk dashboard
// backend. It builds a chi router that serves both a long-running HTTP
// listener (local, containers) and AWS Lambda (API Gateway v2), and applies
// the cross-cutting concerns (recovery, logging, sessions, CSRF, metrics,
// error envelopes) before requests reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"weatherdesk/internal/config"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server encapsulates the dependencies of the HTTP layer so tests can swap
// any of them.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	Sessions       session.Backend
	Policy         *policy.Enforcer
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. They are supplied
	// by main to keep core free of handler imports.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// Routes are mounted separately with MountRoutes.
func NewServer(cfg *config.Config, sessions session.Backend, pol *policy.Enforcer, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session backend must not be nil")
	}
	if pol == nil {
		return nil, fmt.Errorf("policy must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Sessions:  sessions,
		Policy:    pol,
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources owned by the server. The session backend is
// closed when it supports it; the database pool itself belongs to main.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	if closer, ok := s.Sessions.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing session backend", "error", err)
			return fmt.Errorf("closing session backend: %w", err)
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
