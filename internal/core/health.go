package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout is shared by all probes of one request.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency the dashboard cannot serve without.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p probeFunc) Name() string                    { return p.name }
func (p probeFunc) Check(ctx context.Context) error { return p.fn(ctx) }

// NewProbe adapts a ping function into a HealthProbe.
func NewProbe(name string, fn func(ctx context.Context) error) HealthProbe {
	return probeFunc{name: name, fn: fn}
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently under a short shared deadline.
// It answers 200 when all report healthy and 503 otherwise; a probe still
// running at the deadline counts as unhealthy. Public, mounted at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	// Each probe writes only its own slot; the buffered channel lets late
	// probes finish without a reader.
	type outcome struct {
		idx int
		err error
	}
	done := make(chan outcome, len(probes))
	for i, probe := range probes {
		go func() {
			var err error
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("probe panicked: %v", rec)
				}
				done <- outcome{idx: i, err: err}
			}()
			err = probe.Check(ctx)
		}()
	}

	errs := make([]error, len(probes))
	finished := make([]bool, len(probes))
collect:
	for range probes {
		select {
		case o := <-done:
			errs[o.idx] = o.err
			finished[o.idx] = true
		case <-ctx.Done():
			break collect
		}
	}

	resp := healthResponse{Status: "healthy", Components: make(map[string]componentStatus, len(probes))}
	status := http.StatusOK
	for i, probe := range probes {
		c := componentStatus{Status: "healthy"}
		switch {
		case !finished[i]:
			c = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case errs[i] != nil:
			c = componentStatus{Status: "unhealthy", Message: errs[i].Error()}
		}
		if c.Status != "healthy" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			s.Logger.WarnContext(r.Context(), "health probe failed", "probe", probe.Name(), "message", c.Message)
		}
		resp.Components[probe.Name()] = c
	}
	JSON(w, r, status, resp)
}
