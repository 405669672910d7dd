// Command hlpipe is the fills pipeline entry point. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and runs the
// configured mode to completion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/avelinec/hlpipe/internal/app"
	"github.com/avelinec/hlpipe/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (download|normalize|aggregate|report|validate|availability|estimate-cost|full)")
	forceRebuild := flag.Bool("force-rebuild", false, "reprocess dates even when partitions already exist")
	skipExisting := flag.Bool("skip-existing", true, "leave dates with a readable partition untouched")
	lastDays := flag.Int("last-days", 0, "restrict each source to its trailing N dates")
	flag.Parse()

	// Structured JSON logger; level is re-applied after the config loads.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}
	if *forceRebuild {
		cfg.Pipeline.ForceRebuild = true
	}
	if *lastDays > 0 {
		cfg.S3.LastDays = *lastDays
	}
	// Only flags the user actually passed override the config file.
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "skip-existing" {
			cfg.Pipeline.SkipExisting = *skipExisting
		}
	})

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("fills pipeline starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("pipeline shut down gracefully")
		} else {
			logger.Error("pipeline exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("fills pipeline stopped")
}
