// Command deskctl is the terminal client for WeatherDesk. It talks to the
// directory, weather and prediction services directly and keeps the signed in
// identity in a local session file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"weatherdesk/internal/config"
	"weatherdesk/internal/external"
	"weatherdesk/internal/forecast"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

func main() {
	if err := run(); err != nil {
		pterm.Error.Println(describe(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := session.NewFileStore(cfg.Session.FilePath)
	if err != nil {
		return fmt.Errorf("opening session file: %w", err)
	}
	pol, err := policy.New()
	if err != nil {
		return err
	}

	registry := external.NewClientRegistry(cfg.Services, logger)
	predictors := make(map[types.Property]forecast.Predictor, len(registry.Predictors))
	for p, c := range registry.Predictors {
		predictors[p] = c
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCLI(deps{
		directory:  registry.Directory,
		weather:    registry.Weather,
		predictors: predictors,
		store:      store,
		policy:     pol,
		logger:     logger,
		level:      level,
		version:    cfg.Build.String(),
	})
	return c.root().ExecuteContext(ctx)
}

// describe renders err for the terminal. Application errors show their
// message and code; a missing session also tells the user how to fix it.
func describe(err error) string {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	msg := fmt.Sprintf("%s (%s)", appErr.Message, appErr.Code)
	if appErr.Code == types.ErrCodeAuthSessionMissing {
		msg += "; run `deskctl login <username>` first"
	}
	return msg
}
