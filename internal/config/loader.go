package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError reports why LoadConfig failed; Type tells a missing variable
// from an unparseable or invalid one.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// loaderDeps lets tests skip the .env file.
type loaderDeps struct {
	loadDotenv func(files ...string) error
	process    func(prefix string, spec interface{}) error
}

// LoadConfig reads the environment (after an optional .env, which never
// overrides variables already set) into a validated Config. The process
// clock is pinned to UTC.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(loaderDeps{loadDotenv: godotenv.Load, process: envconfig.Process})
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC
	_ = deps.loadDotenv()

	cfg := new(Config)
	if err := deps.process("", cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if err := cfg.crossCheck(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// crossCheck applies the rules struct tags cannot express.
func (c *Config) crossCheck() error {
	if c.Session.Backend == "postgres" && c.Database.URL == "" {
		return &ConfigError{Type: ErrMissingEnv, Message: "DATABASE_URL is required when SESSION_BACKEND=postgres"}
	}
	return nil
}

// PredictionURLs maps each property code to its prediction endpoint.
func (s ServicesConfig) PredictionURLs() map[string]string {
	return map[string]string{
		"T2M":  s.PredictT2MURL,
		"RH2M": s.PredictRH2MURL,
		"WS2M": s.PredictWS2MURL,
	}
}
