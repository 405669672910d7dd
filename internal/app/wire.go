package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avelinec/hlpipe/internal/aggregate"
	"github.com/avelinec/hlpipe/internal/authority"
	s3blob "github.com/avelinec/hlpipe/internal/blob/s3"
	"github.com/avelinec/hlpipe/internal/config"
	"github.com/avelinec/hlpipe/internal/partition"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Resolver *authority.Resolver
	Store    *partition.Store
	Builder  *aggregate.Builder

	// S3, only wired for modes that touch the bucket.
	Downloader *s3blob.Downloader
	Estimator  *s3blob.Estimator
	Checker    *s3blob.Checker
}

// needsS3 returns true for modes that talk to the raw data bucket.
func needsS3(mode string) bool {
	switch mode {
	case "download", "availability", "estimate-cost", "full":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: catalog: %w", err)
	}

	store := partition.NewStore(cfg.Paths.PartitionDir)
	deps := &Dependencies{
		Resolver: authority.NewResolver(catalog),
		Store:    store,
		Builder:  aggregate.NewBuilder(store, cfg.Paths.DatabasePath, logger),
	}

	if needsS3(cfg.Mode) {
		client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Region:        cfg.S3.Region,
			Bucket:        cfg.S3.Bucket,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			RequesterPays: cfg.S3.RequesterPays,
			MaxRetries:    cfg.S3.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })

		deps.Downloader = s3blob.NewDownloader(client, cfg.Paths.RawDir, cfg.S3.Prefix, cfg.S3.Concurrency, logger)
		deps.Estimator = s3blob.NewEstimator(client, cfg.S3.Prefix, logger)
		deps.Checker = s3blob.NewChecker(client, cfg.S3.Prefix, logger)
	}

	return deps, cleanup, nil
}
