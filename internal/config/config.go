// Package config defines the process configuration for WeatherDesk.
// Configuration is loaded once at startup (or Lambda cold start) and is
// immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct defaults (Lowest)
//
// Any invalid value causes the process to exit on startup.
package config

import "time"

// Config is the top-level configuration struct for the dashboard backend and
// the deskctl CLI. Sub-components receive only the subset they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"weatherdesk"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Session       SessionConfig
	Database      DatabaseConfig
	Services      ServicesConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings for the dashboard backend.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
	// RunMode selects the transport: "http" for a long-running server,
	// "lambda" for API Gateway invocation.
	RunMode string `envconfig:"RUN_MODE" default:"http" validate:"oneof=http lambda"`
	// RequestTimeout is the soft deadline applied to every request context.
	// Under Lambda it should sit just below the function timeout.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"75s"`

	// PredictLimit bounds LLM forecast calls per user within PredictWindow.
	PredictLimit  int           `envconfig:"PREDICT_RATE_LIMIT" default:"30" validate:"gte=0"`
	PredictWindow time.Duration `envconfig:"PREDICT_RATE_WINDOW" default:"1h"`
}

// SessionConfig controls where session records live.
type SessionConfig struct {
	// Backend is "memory" or "postgres" for the server, "file" for the CLI.
	Backend      string        `envconfig:"SESSION_BACKEND" default:"memory" validate:"oneof=memory postgres file"`
	TTL          time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	CookieName   string        `envconfig:"SESSION_COOKIE" default:"weatherdesk_session"`
	CookieSecure bool          `envconfig:"SESSION_COOKIE_SECURE" default:"false"`
	// FilePath overrides the CLI credential file location. Empty means
	// ~/.weatherdesk/session.json.
	FilePath string `envconfig:"SESSION_FILE"`
}

// DatabaseConfig holds the optional Postgres connection used for sessions.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ServicesConfig locates the upstream HTTP services.
type ServicesConfig struct {
	DirectoryURL   string        `envconfig:"DIRECTORY_URL" default:"http://localhost:5000" validate:"required,url"`
	PredictT2MURL  string        `envconfig:"PREDICT_T2M_URL" default:"http://localhost:5001/forecast" validate:"required,url"`
	PredictRH2MURL string        `envconfig:"PREDICT_RH2M_URL" default:"http://localhost:5002/forecast" validate:"required,url"`
	PredictWS2MURL string        `envconfig:"PREDICT_WS2M_URL" default:"http://localhost:5003/forecast" validate:"required,url"`
	WeatherURL     string        `envconfig:"WEATHER_URL" default:"https://api.open-meteo.com/v1/forecast" validate:"required,url"`
	AirQualityURL  string        `envconfig:"AIR_QUALITY_URL" default:"https://air-quality-api.open-meteo.com/v1/air-quality" validate:"required,url"`
	Timeout        time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`
	// PredictionTimeout is longer because model inference is slow.
	PredictionTimeout time.Duration `envconfig:"PREDICTION_TIMEOUT" default:"60s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// AccessEventQueueURL receives access lifecycle events. Empty disables
	// publishing.
	AccessEventQueueURL string `envconfig:"SQS_ACCESS_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"WeatherDesk"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
