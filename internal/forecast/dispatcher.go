// Package forecast routes LLM forecast queries to the per-property
// prediction services.
package forecast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"weatherdesk/internal/types"
)

// Predictor is one prediction backend.
type Predictor interface {
	Predict(ctx context.Context, lat, lon float64, property types.Property) (types.ForecastResult, error)
}

// Dispatcher holds the fixed property routing table. It keeps no cache;
// every call re-queries the backend.
type Dispatcher struct {
	routes   map[types.Property]Predictor
	validate *validator.Validate
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher. Properties missing from routes fail at
// call time with an invalid-property error.
func NewDispatcher(routes map[types.Property]Predictor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[types.Property]Predictor, len(routes))
	for p, svc := range routes {
		if svc != nil {
			table[p] = svc
		}
	}
	return &Dispatcher{
		routes:   table,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Predict validates q and issues exactly one request to the routed service.
// The result is returned in the order the service sent it.
func (d *Dispatcher) Predict(ctx context.Context, q types.ForecastQuery) (types.ForecastResult, error) {
	if err := d.Validate(q); err != nil {
		return nil, err
	}

	svc, ok := d.routes[q.Property]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidProperty,
			"no prediction service for property", nil, map[string]any{"property": string(q.Property)})
	}

	result, err := svc.Predict(ctx, *q.Lat, *q.Lon, q.Property)
	if err != nil {
		d.logger.WarnContext(ctx, "prediction failed",
			"property", string(q.Property),
			"error", err,
		)
		return nil, err
	}
	return result, nil
}

// Validate checks q without touching the network.
func (d *Dispatcher) Validate(q types.ForecastQuery) error {
	err := d.validate.Struct(q)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to validate forecast query", err)
	}

	fe := verrs[0]
	details := map[string]any{"field": fe.Field(), "rule": fe.Tag()}
	switch fe.StructField() {
	case "Lat":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLat,
			"latitude must be a number between -90 and 90", nil, details)
	case "Lon":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLon,
			"longitude must be a number between -180 and 180", nil, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidProperty,
			"property must be one of T2M, RH2M, WS2M", nil, details)
	}
}
