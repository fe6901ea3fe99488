package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"weatherdesk/internal/core"
	"weatherdesk/internal/grid"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/types"
)

// Predictor runs an LLM forecast query. *forecast.Dispatcher implements it.
type Predictor interface {
	Validate(q types.ForecastQuery) error
	Predict(ctx context.Context, q types.ForecastQuery) (types.ForecastResult, error)
}

// GridSampler samples the lattice around a focal point. *grid.Sampler
// implements it.
type GridSampler interface {
	Sample(ctx context.Context, focal types.Coordinate, property types.Property) ([]types.GridPoint, error)
}

// PredictLimits bounds LLM forecast calls per user. A zero Limit disables
// the bound.
type PredictLimits struct {
	Limit  int
	Window time.Duration
}

// PredictResponse echoes the query with its forecast days.
type PredictResponse struct {
	Lat      float64              `json:"lat"`
	Lon      float64              `json:"lon"`
	Property types.Property       `json:"property"`
	Points   types.ForecastResult `json:"points"`
}

// GridResponse is one lattice sample with the legend for its property.
type GridResponse struct {
	Focal    types.Coordinate  `json:"focal"`
	Property types.Property    `json:"property"`
	Points   []types.GridPoint `json:"points"`
	Legend   []types.Band      `json:"legend"`
}

// ForecastHandler serves LLM forecasts and the weather grid.
type ForecastHandler struct {
	predictor Predictor
	sampler   GridSampler
	managers  AccessFactory
	guard     Guard
	limits    PredictLimits
	logger    *slog.Logger
}

func NewForecastHandler(predictor Predictor, sampler GridSampler, managers AccessFactory, guard Guard, limits PredictLimits, logger *slog.Logger) *ForecastHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForecastHandler{
		predictor: predictor,
		sampler:   sampler,
		managers:  managers,
		guard:     guard,
		limits:    limits,
		logger:    logger,
	}
}

func (h *ForecastHandler) RegisterRoutes(r chi.Router) {
	r.Route("/forecast", func(r chi.Router) {
		r.With(h.guard.RequireCapability(policy.Predict)).Post("/predict", h.HandlePredict)
		r.With(h.guard.RequireCapability(policy.SampleGrid)).Get("/grid", h.HandleGrid)
	})
}

// HandlePredict handles POST /v1/forecast/predict with
// {"lat":..,"lon":..,"property":".."}. The query is validated before the
// access check, and only callers past the check count against the rate
// limit. Users need an approved access request.
func (h *ForecastHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionOf(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var q types.ForecastQuery
	if err := core.DecodeJSON(w, r, &q); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.predictor.Validate(q); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.managers(sess, nil).RequirePredict(r.Context()); err != nil {
		core.Error(w, r, err)
		return
	}

	limited := h.guard.RateLimit(h.limits.Limit, h.limits.Window)
	limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.predict(w, r, q)
	})).ServeHTTP(w, r)
}

func (h *ForecastHandler) predict(w http.ResponseWriter, r *http.Request, q types.ForecastQuery) {
	points, err := h.predictor.Predict(r.Context(), q)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PredictResponse{
		Lat:      *q.Lat,
		Lon:      *q.Lon,
		Property: q.Property,
		Points:   points,
	}})
}

// HandleGrid handles GET /v1/forecast/grid?lat=&lon=&property=. The
// property defaults to T2M. A discarded batch is not an error: the response
// carries no points and a partial_grid_batch warning.
func (h *ForecastHandler) HandleGrid(w http.ResponseWriter, r *http.Request) {
	focal, err := coordinateQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if focal == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "lat and lon query parameters are required", nil))
		return
	}

	property := types.PropertyT2M
	if p := r.URL.Query().Get("property"); p != "" {
		property = types.Property(p)
	}
	if !property.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidProperty,
			"property must be one of T2M, RH2M, WS2M", nil, map[string]any{"property": string(property)}))
		return
	}

	resp := GridResponse{
		Focal:    *focal,
		Property: property,
		Points:   []types.GridPoint{},
		Legend:   grid.Legend(property),
	}

	points, err := h.sampler.Sample(r.Context(), *focal, property)
	switch {
	case types.IsCode(err, types.ErrCodePartialGridBatch):
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp, Meta: core.Warn(err)})
		return
	case err != nil:
		core.Error(w, r, err)
		return
	}

	resp.Points = points
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}
