// Package normalize drives the raw-to-canonical pipeline: it enumerates
// candidate dates, resolves the authoritative source for each, runs the
// matching converter over that source's raw files, and hands the fills to
// the partition store. Dates are independent, so a bounded worker pool
// processes them in parallel with each worker owning one date end to end;
// only the run report is shared, guarded by a mutex.
package normalize

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avelinec/hlpipe/internal/authority"
	"github.com/avelinec/hlpipe/internal/convert"
	"github.com/avelinec/hlpipe/internal/domain"
	"github.com/avelinec/hlpipe/internal/partition"
	"github.com/avelinec/hlpipe/internal/rawio"
)

// Options control a normalization run.
type Options struct {
	// Workers is the worker pool width. Each worker holds at most one
	// date's fills in memory, so peak memory scales with Workers, not
	// with the dataset.
	Workers int

	// ForceRebuild replaces partitions that already exist.
	ForceRebuild bool

	// SkipExisting leaves dates with a readable partition untouched.
	// Ignored when ForceRebuild is set.
	SkipExisting bool
}

// Orchestrator runs the normalization pipeline over the raw store.
type Orchestrator struct {
	rawDir   string
	store    *partition.Store
	resolver *authority.Resolver
	opts     Options
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(rawDir string, store *partition.Store, resolver *authority.Resolver, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		rawDir:   rawDir,
		store:    store,
		resolver: resolver,
		opts:     opts,
		logger:   logger.With(slog.String("component", "normalize")),
	}
}

// Run processes every candidate date and returns the run report. Individual
// date failures are recorded in the report, not returned; Run only errors
// when the raw store cannot be enumerated or the context is cancelled.
// Cancellation between dates is safe: completed dates are durably
// partitioned and an interrupted date leaves nothing published.
func (o *Orchestrator) Run(ctx context.Context) (*domain.RunReport, error) {
	dates, err := rawio.AllDates(o.rawDir, o.resolver.Sources())
	if err != nil {
		return nil, err
	}

	// No workers are running yet, so stale temps from a crashed run can be
	// swept safely.
	if swept, err := o.store.SweepTemp(); err != nil {
		return nil, err
	} else if swept > 0 {
		o.logger.Info("stale temp files removed", slog.Int("count", swept))
	}

	report := &domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	o.logger.Info("normalization run starting",
		slog.String("run_id", report.RunID),
		slog.Int("candidate_dates", len(dates)),
		slog.Int("workers", o.opts.Workers),
		slog.Bool("force_rebuild", o.opts.ForceRebuild),
	)

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for _, date := range dates {
		date := date
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res := o.processDate(gctx, date)

			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()

			o.logResult(res)

			// Cancellation is the only error that stops the run.
			if res.Err != nil && errors.Is(res.Err, context.Canceled) {
				return res.Err
			}
			return nil
		})
	}

	err = g.Wait()
	report.FinishedAt = time.Now().UTC()

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Date.Before(report.Results[j].Date)
	})

	if err != nil {
		return report, err
	}
	return report, nil
}

// processDate runs the per-date state machine: resolve authority, locate raw
// files, convert, and publish the partition. All of the date's fills are
// accumulated in memory, bounding the worker to one date's worth of data.
func (o *Orchestrator) processDate(ctx context.Context, date time.Time) domain.DateResult {
	res := domain.DateResult{Date: date, Status: domain.StatusFailed}

	src, covered := o.resolver.AuthorityFor(date)
	if !covered {
		res.Status = domain.StatusSkippedUncovered
		return res
	}
	res.Source = src.Name

	if !o.opts.ForceRebuild && o.opts.SkipExisting {
		if ok, rows := o.store.Probe(date); ok {
			res.Status = domain.StatusSkippedExisting
			res.Records = rows
			return res
		}
	}

	files, err := rawio.FilesForDate(o.rawDir, src, date)
	if err != nil {
		res.Err = err
		return res
	}
	if len(files) == 0 {
		res.Status = domain.StatusSkippedNoFiles
		return res
	}
	res.Files = len(files)

	converter, err := convert.ForSource(src.Name)
	if err != nil {
		res.Err = err
		return res
	}

	var fills []domain.NormalizedFill
	for _, file := range files {
		if ctx.Err() != nil {
			res.Err = context.Canceled
			return res
		}
		err := rawio.ScanLines(file, func(line []byte) error {
			converted, cerr := converter.Convert(line)
			if cerr != nil {
				// A malformed record is dropped and counted; the
				// file keeps processing.
				res.Malformed++
				return nil
			}
			fills = append(fills, converted...)
			return nil
		})
		if err != nil {
			// An unreadable file aborts only this date.
			res.Err = err
			return res
		}
	}

	desc, err := o.store.Write(date, fills)
	if err != nil {
		res.Err = err
		return res
	}

	res.Status = domain.StatusDone
	res.Records = desc.Records
	return res
}

func (o *Orchestrator) logResult(res domain.DateResult) {
	attrs := []any{
		slog.String("date", res.Date.Format(domain.DateLayout)),
		slog.String("status", string(res.Status)),
	}
	if res.Source != "" {
		attrs = append(attrs, slog.String("source", res.Source))
	}
	switch res.Status {
	case domain.StatusDone:
		attrs = append(attrs,
			slog.Int("files", res.Files),
			slog.Int64("records", res.Records),
		)
		if res.Malformed > 0 {
			attrs = append(attrs, slog.Int64("malformed", res.Malformed))
		}
		o.logger.Info("date processed", attrs...)
	case domain.StatusFailed:
		attrs = append(attrs, slog.String("error", res.Err.Error()))
		o.logger.Error("date failed", attrs...)
	default:
		o.logger.Info("date skipped", attrs...)
	}
}
