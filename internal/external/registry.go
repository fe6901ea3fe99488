package external

import (
	"log/slog"
	"net/http"

	"weatherdesk/internal/config"
	"weatherdesk/internal/types"
)

// ClientRegistry instantiates every outbound service client from
// configuration. It is the single place that knows the upstream topology.
type ClientRegistry struct {
	Directory *DirectoryClient
	Weather   *WeatherClient
	// Predictors holds one client per routable property.
	Predictors map[types.Property]*PredictionClient
}

// NewClientRegistry builds the clients with per-service timeouts.
func NewClientRegistry(cfg config.ServicesConfig, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	upstream := &http.Client{Timeout: cfg.Timeout}
	predict := &http.Client{Timeout: cfg.PredictionTimeout}

	urls := cfg.PredictionURLs()
	predictors := make(map[types.Property]*PredictionClient, len(types.AllProperties))
	for _, p := range types.AllProperties {
		predictors[p] = NewPredictionClient(predict, string(p), urls[string(p)], logger.With("component", "predict", "property", string(p)))
	}

	return &ClientRegistry{
		Directory:  NewDirectoryClient(upstream, cfg.DirectoryURL, logger.With("component", "directory")),
		Weather:    NewWeatherClient(upstream, cfg.WeatherURL, cfg.AirQualityURL, logger.With("component", "open-meteo")),
		Predictors: predictors,
	}
}
