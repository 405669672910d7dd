package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avelinec/hlpipe/internal/domain"
	"github.com/avelinec/hlpipe/internal/normalize"
	"github.com/avelinec/hlpipe/internal/query"
	"github.com/avelinec/hlpipe/internal/validate"
)

// DownloadMode syncs the raw hourly archives from the bucket into the local
// raw directory.
func (a *App) DownloadMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting download mode")

	report, err := deps.Downloader.Sync(ctx, deps.Resolver.Sources(), a.cfg.S3.LastDays)
	if err != nil {
		return fmt.Errorf("download mode: %w", err)
	}

	for _, s := range report.Stats {
		fmt.Printf("%-24s objects=%d downloaded=%d skipped=%d bytes=%d failed=%d\n",
			s.Source, s.Objects, s.Downloaded, s.Skipped, s.Bytes, s.Failed)
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("download mode: %d objects failed", n)
	}
	return nil
}

// NormalizeMode converts the raw archives into canonical daily partitions.
func (a *App) NormalizeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting normalize mode")

	o := normalize.New(a.cfg.Paths.RawDir, deps.Store, deps.Resolver, normalize.Options{
		Workers:      a.cfg.Pipeline.Workers,
		ForceRebuild: a.cfg.Pipeline.ForceRebuild,
		SkipExisting: a.cfg.Pipeline.SkipExisting,
	}, a.logger)

	report, err := o.Run(ctx)
	if err != nil {
		return fmt.Errorf("normalize mode: %w", err)
	}
	a.printRunSummary(report)

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("normalize mode: %d dates failed", len(failed))
	}
	return nil
}

// AggregateMode rebuilds the aggregate database from the written partitions.
// It must run after normalization; it reads only the partition store.
func (a *App) AggregateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting aggregate mode")

	if err := deps.Builder.Rebuild(ctx); err != nil {
		return fmt.Errorf("aggregate mode: %w", err)
	}
	return nil
}

// ReportMode prints a dataset overview from the aggregate database.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting report mode")

	analytics, err := query.Open(a.cfg.Paths.DatabasePath, a.cfg.Cache.MaxEntries, a.logger)
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	defer analytics.Close()

	summary, err := analytics.DataSummary(ctx)
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	fmt.Printf("fills:        %d\n", summary.TotalFills)
	fmt.Printf("users:        %d\n", summary.UniqueUsers)
	fmt.Printf("coins:        %d\n", summary.UniqueCoins)
	fmt.Printf("days:         %d (%s .. %s)\n", summary.TotalDays, summary.EarliestDate, summary.LatestDate)
	fmt.Printf("volume:       %.2f\n", summary.TotalVolume)
	fmt.Printf("trades:       %d\n", summary.TotalTrades)

	top, err := analytics.TopUsers(ctx, 10, "", "")
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	fmt.Println("\ntop users by volume:")
	for i, u := range top {
		fmt.Printf("%2d. %s volume=%.2f trades=%d days=%d\n",
			i+1, u.UserAddress, u.TotalVolume, u.TotalTrades, u.ActiveDays)
	}

	coins, err := analytics.CoinStatistics(ctx, "", "")
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	fmt.Println("\ntop coins by volume:")
	for i, c := range coins {
		if i >= 10 {
			break
		}
		fmt.Printf("%2d. %-12s volume=%.2f trades=%d traders=%d\n",
			i+1, c.Coin, c.TotalVolume, c.TotalTrades, c.UniqueTraders)
	}
	return nil
}

// ValidateMode reconciles written partitions against the raw archives.
func (a *App) ValidateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting validate mode")

	v := validate.NewValidator(a.cfg.Paths.RawDir, deps.Store, deps.Resolver, a.logger)
	report, err := v.Run(ctx)
	if err != nil {
		return fmt.Errorf("validate mode: %w", err)
	}

	for _, dr := range report.Dates {
		if dr.OK() {
			fmt.Printf("%s  ok    source=%s raw=%d rows=%d\n", dr.Date, dr.Source, dr.RawRecords, dr.Rows)
			continue
		}
		fmt.Printf("%s  FAIL  %s\n", dr.Date, strings.Join(dr.Problems, "; "))
	}
	for _, date := range report.MissingPartitions {
		fmt.Printf("%s  FAIL  covered raw date has no partition\n", date)
	}
	if !report.OK() {
		return fmt.Errorf("validate mode: %d dates failed validation",
			report.Failed()+len(report.MissingPartitions))
	}
	return nil
}

// AvailabilityMode reports which dates of each source window have archives
// in the bucket.
func (a *App) AvailabilityMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting availability mode")

	sources, err := deps.Checker.Check(ctx, deps.Resolver.Sources(), a.cfg.S3.LastDays)
	if err != nil {
		return fmt.Errorf("availability mode: %w", err)
	}
	for _, sa := range sources {
		fmt.Printf("%-24s %d/%d dates present\n", sa.Source, sa.Present, sa.Expected)
		for _, missing := range sa.MissingDates {
			fmt.Printf("  missing %s\n", missing)
		}
	}
	return nil
}

// EstimateCostMode prices a full download of every source window without
// fetching any data.
func (a *App) EstimateCostMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting estimate-cost mode")

	est, err := deps.Estimator.Estimate(ctx, deps.Resolver.Sources(), a.cfg.S3.LastDays)
	if err != nil {
		return fmt.Errorf("estimate-cost mode: %w", err)
	}
	for _, sc := range est.Sources {
		fmt.Printf("%-24s objects=%d bytes=%d\n", sc.Source, sc.Objects, sc.Bytes)
	}
	fmt.Printf("transfer: $%s\n", est.TransferUSD.StringFixed(2))
	fmt.Printf("requests: $%s\n", est.RequestUSD.StringFixed(4))
	fmt.Printf("total:    $%s\n", est.TotalUSD.StringFixed(2))
	return nil
}

// FullMode runs the whole pipeline in order: download, normalize,
// aggregate, report. Aggregation only starts once every date has been
// normalized.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if err := a.DownloadMode(ctx, deps); err != nil {
		return err
	}
	if err := a.NormalizeMode(ctx, deps); err != nil {
		return err
	}
	if err := a.AggregateMode(ctx, deps); err != nil {
		return err
	}
	return a.ReportMode(ctx, deps)
}

// printRunSummary writes a human-readable digest of one normalization run.
func (a *App) printRunSummary(report *domain.RunReport) {
	counts := report.Counts()
	fmt.Printf("run %s: %d dates (%d done, %d existing, %d no files, %d uncovered, %d failed)\n",
		report.RunID,
		len(report.Results),
		counts[domain.StatusDone],
		counts[domain.StatusSkippedExisting],
		counts[domain.StatusSkippedNoFiles],
		counts[domain.StatusSkippedUncovered],
		counts[domain.StatusFailed],
	)
	fmt.Printf("records=%d malformed=%d elapsed=%s\n",
		report.TotalRecords(),
		report.TotalMalformed(),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	for name, stat := range report.SourceStats() {
		fmt.Printf("  %-24s dates=%d files=%d records=%d\n", name, stat.Dates, stat.Files, stat.Records)
	}
	for _, res := range report.Failed() {
		a.logger.Error("date failed",
			slog.String("date", res.Date.Format(domain.DateLayout)),
			slog.Any("error", res.Err),
		)
	}
}
