package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"weatherdesk/internal/access"
	"weatherdesk/internal/api/handlers"
	"weatherdesk/internal/auth"
	"weatherdesk/internal/config"
	"weatherdesk/internal/core"
	"weatherdesk/internal/dashboard"
	"weatherdesk/internal/db"
	"weatherdesk/internal/external"
	"weatherdesk/internal/forecast"
	"weatherdesk/internal/grid"
	"weatherdesk/internal/metrics"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/queue"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

const (
	metricsFlushInterval = time.Minute
	sessionPurgeInterval = 15 * time.Minute
)

// app is the wired dashboard backend.
type app struct {
	server *core.Server
	logger *slog.Logger

	background []func(ctx context.Context)
	closers    []func()
}

// newApp builds every dependency from cfg. AWS clients are only created
// when a feature needs them, so local runs work without credentials.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	pol, err := policy.New()
	if err != nil {
		return nil, fmt.Errorf("building policy: %w", err)
	}

	registry := external.NewClientRegistry(cfg.Services, logger)

	sessions, probes, err := a.sessionBackend(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	srv, err := core.NewServer(cfg, sessions, pol, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.RateLimitStore = core.NewMemoryRateLimitStore(nil)
	srv.HealthProbes = append(probes, core.NewProbe("directory", registry.Directory.Ping))

	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return awsCfg, nil
	}

	srv.Metrics = metrics.NopCollector{}
	if cfg.Observability.EnableMetrics {
		c, err := loadAWS()
		if err != nil {
			a.close()
			return nil, err
		}
		collector := metrics.NewCloudWatchCollector(
			cloudwatch.NewFromConfig(c, func(o *cloudwatch.Options) { setEndpoint(&o.BaseEndpoint, cfg.AWS.EndpointURL) }),
			cfg.Observability.MetricNamespace,
			logger.With("component", "metrics"),
		)
		srv.Metrics = collector
		a.background = append(a.background, func(ctx context.Context) { collector.Run(ctx, metricsFlushInterval) })
	}

	var events access.EventPublisher = queue.LogPublisher{Logger: logger.With("component", "access-events")}
	if cfg.AWS.AccessEventQueueURL != "" {
		c, err := loadAWS()
		if err != nil {
			a.close()
			return nil, err
		}
		events = queue.NewAccessEventPublisher(
			sqs.NewFromConfig(c, func(o *sqs.Options) { setEndpoint(&o.BaseEndpoint, cfg.AWS.EndpointURL) }),
			cfg.AWS.AccessEventQueueURL,
			logger.With("component", "access-events"),
		)
	}

	managers := func(sess *session.Session, confirm access.Confirmer) *access.Manager {
		return access.NewManager(registry.Directory, sess, pol, confirm, events, logger.With("component", "access"))
	}

	routes := make(map[types.Property]forecast.Predictor, len(registry.Predictors))
	for p, c := range registry.Predictors {
		routes[p] = c
	}
	dispatcher := forecast.NewDispatcher(routes, logger.With("component", "forecast"))
	sampler := grid.NewSampler(registry.Weather, logger.With("component", "grid"))
	loader := dashboard.NewLoader(registry.Directory, pol, logger.With("component", "dashboard"))

	authSvc := auth.NewService(registry.Directory,
		auth.NewThrottle(auth.DefaultThrottleConfig(), nil),
		logger.With("component", "auth"))

	authHandler := handlers.NewAuthHandler(authSvc, srv, srv, pol, logger)
	dashboardHandler := handlers.NewDashboardHandler(loader, registry.Weather, managers, srv, logger)
	accessHandler := handlers.NewAccessHandler(managers, srv, srv, srv.Validator, logger)
	forecastHandler := handlers.NewForecastHandler(dispatcher, sampler, managers, srv,
		handlers.PredictLimits{Limit: cfg.Server.PredictLimit, Window: cfg.Server.PredictWindow}, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		authHandler.RegisterRoutes,
		dashboardHandler.RegisterRoutes,
		accessHandler.RegisterRoutes,
		forecastHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	a.server = srv
	return a, nil
}

// sessionBackend selects where browser sessions live. Postgres sessions
// survive restarts and are shared across Lambda instances.
func (a *app) sessionBackend(ctx context.Context, cfg *config.Config) (session.Backend, []core.HealthProbe, error) {
	switch cfg.Session.Backend {
	case "postgres":
		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, pool.Close)

		repo := db.NewSessionRepository(pool, cfg.Session.TTL, nil)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("preparing session schema: %w", err)
		}
		a.background = append(a.background, func(ctx context.Context) { purgeSessions(ctx, repo, a.logger) })
		return repo, []core.HealthProbe{core.NewProbe("database", pool.Ping)}, nil

	case "memory":
		return session.NewMemoryBackend(), nil, nil

	default:
		return nil, nil, fmt.Errorf("session backend %q is not available to the server", cfg.Session.Backend)
	}
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// purgeSessions deletes expired session rows until ctx is done.
func purgeSessions(ctx context.Context, repo *db.SessionRepository, logger *slog.Logger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "session purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}

// setEndpoint points an AWS client at LocalStack when an override is set.
func setEndpoint(dst **string, url string) {
	if url != "" {
		*dst = aws.String(url)
	}
}

func (a *app) startBackground(ctx context.Context) {
	for _, fn := range a.background {
		go fn(ctx)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
