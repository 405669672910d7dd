// Package app provides the top-level application lifecycle for the fills
// pipeline. It wires together the partition store, authority resolver, S3
// downloader, aggregate builder, and query layer, then runs the configured
// operating mode to completion.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avelinec/hlpipe/internal/config"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, runs the selected
// mode to completion, and returns its error. Modes are batch operations,
// not long-running servers: each one finishes and exits.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting pipeline",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "download":
		return a.DownloadMode(ctx, deps)
	case "normalize":
		return a.NormalizeMode(ctx, deps)
	case "aggregate":
		return a.AggregateMode(ctx, deps)
	case "report":
		return a.ReportMode(ctx, deps)
	case "validate":
		return a.ValidateMode(ctx, deps)
	case "availability":
		return a.AvailabilityMode(ctx, deps)
	case "estimate-cost":
		return a.EstimateCostMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
