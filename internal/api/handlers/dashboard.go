package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"weatherdesk/internal/core"
	"weatherdesk/internal/dashboard"
	"weatherdesk/internal/policy"
)

// DashboardHandler serves the landing view and the weather panel.
type DashboardHandler struct {
	loader   *dashboard.Loader
	weather  dashboard.WeatherSource
	managers AccessFactory
	guard    Guard
	logger   *slog.Logger
}

func NewDashboardHandler(loader *dashboard.Loader, weather dashboard.WeatherSource, managers AccessFactory, guard Guard, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{loader: loader, weather: weather, managers: managers, guard: guard, logger: logger}
}

func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.With(h.guard.RequireCapability(policy.ViewDashboard)).Get("/dashboard", h.HandleDashboard)
	r.With(h.guard.RequireCapability(policy.ReadWeather)).Get("/weather", h.HandleWeather)
}

// HandleDashboard handles GET /v1/dashboard. An anonymous caller gets 401
// auth_session_missing, which the front end treats as a redirect to login.
func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionOf(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	view, err := h.loader.Load(r.Context(), sess.Identity(), h.managers(sess, nil))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

// HandleWeather handles GET /v1/weather with optional ?lat=&lon=.
func (h *DashboardHandler) HandleWeather(w http.ResponseWriter, r *http.Request) {
	at, err := coordinateQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	report, err := h.loader.Weather(r.Context(), h.weather, at)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}
