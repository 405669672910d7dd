package s3blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/avelinec/hlpipe/internal/domain"
)

// downloadPartSize is the ranged-GET part size for the transfer manager.
const downloadPartSize int64 = 8 * 1024 * 1024

// Downloader mirrors the hourly archives for each dataset source into the
// local raw directory. Objects already present locally with a matching size
// are skipped, so repeated syncs only pay for listings.
type Downloader struct {
	client      *Client
	reader      *Reader
	transfer    *manager.Downloader
	rawDir      string
	prefix      string
	concurrency int
	logger      *slog.Logger
}

// NewDownloader creates a Downloader writing under rawDir. prefix is an
// optional key prefix in front of each dataset path.
func NewDownloader(client *Client, rawDir, prefix string, concurrency int, logger *slog.Logger) *Downloader {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client: client,
		reader: NewReader(client),
		transfer: manager.NewDownloader(client.S3(), func(m *manager.Downloader) {
			m.PartSize = downloadPartSize
		}),
		rawDir:      rawDir,
		prefix:      prefix,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "downloader")),
	}
}

// SyncStats accumulates per-source transfer counters.
type SyncStats struct {
	Source     string
	Objects    int64
	Downloaded int64
	Skipped    int64
	Bytes      int64
	Failed     int64
}

// SyncReport summarizes one sync run across all sources.
type SyncReport struct {
	Stats []SyncStats
}

// Downloaded returns the total number of objects fetched.
func (r *SyncReport) Downloaded() int64 {
	var n int64
	for _, s := range r.Stats {
		n += s.Downloaded
	}
	return n
}

// Failed returns the total number of objects that could not be fetched.
func (r *SyncReport) Failed() int64 {
	var n int64
	for _, s := range r.Stats {
		n += s.Failed
	}
	return n
}

// Sync lists each source's hourly archives across its validity window and
// downloads the missing ones. lastDays > 0 restricts each source to the
// most recent N dates of its window. Individual object failures are counted
// and logged but do not abort the run.
func (d *Downloader) Sync(ctx context.Context, sources []domain.DatasetSource, lastDays int) (*SyncReport, error) {
	report := &SyncReport{}
	for _, src := range sources {
		stats, err := d.syncSource(ctx, src, lastDays)
		if err != nil {
			return report, err
		}
		report.Stats = append(report.Stats, *stats)
	}
	return report, nil
}

func (d *Downloader) syncSource(ctx context.Context, src domain.DatasetSource, lastDays int) (*SyncStats, error) {
	stats := &SyncStats{Source: src.Name}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, date := range datesFor(src, lastDays) {
		infos, err := d.reader.List(ctx, datePrefix(d.prefix, src, date))
		if err != nil {
			return stats, err
		}
		for _, info := range infos {
			info := info
			local := filepath.Join(d.rawDir, src.Path, date.Format(domain.RawDateLayout), path.Base(info.Path))

			mu.Lock()
			stats.Objects++
			mu.Unlock()

			if fi, err := os.Stat(local); err == nil && fi.Size() == info.Size {
				mu.Lock()
				stats.Skipped++
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				if err := d.fetch(ctx, info.Path, local); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					d.logger.Warn("download failed",
						slog.String("key", info.Path),
						slog.Any("error", err),
					)
					mu.Lock()
					stats.Failed++
					mu.Unlock()
					return nil
				}
				mu.Lock()
				stats.Downloaded++
				stats.Bytes += info.Size
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}

	d.logger.Info("source synced",
		slog.String("source", src.Name),
		slog.Int64("objects", stats.Objects),
		slog.Int64("downloaded", stats.Downloaded),
		slog.Int64("skipped", stats.Skipped),
		slog.Int64("bytes", stats.Bytes),
		slog.Int64("failed", stats.Failed),
	)
	return stats, nil
}

// fetch downloads one object to a temp file in the target directory and
// renames it into place, so readers never observe a partial download. The
// transfer manager splits the object into concurrent ranged GETs; the temp
// file satisfies the io.WriterAt it needs.
func (d *Downloader) fetch(ctx context.Context, key, local string) error {
	dir := filepath.Dir(local)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("s3blob: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("s3blob: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = d.transfer.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket:       aws.String(d.client.Bucket()),
		Key:          aws.String(key),
		RequestPayer: d.client.payer(),
	})
	if err != nil {
		tmp.Close()
		return fmt.Errorf("s3blob: download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("s3blob: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("s3blob: publish %s: %w", local, err)
	}
	return nil
}

// datePrefix builds the remote key prefix for one source date, e.g.
// "node_fills/hourly/20250601/". The source path already ends in the
// cadence segment, and the local mirror uses the same layout.
func datePrefix(prefix string, src domain.DatasetSource, date time.Time) string {
	return path.Join(prefix, src.Path, date.Format(domain.RawDateLayout)) + "/"
}

// datesFor expands a source's validity window into individual dates, capped
// at today and optionally restricted to the trailing lastDays dates.
func datesFor(src domain.DatasetSource, lastDays int) []time.Time {
	end := src.End
	if today := time.Now().UTC().Truncate(24 * time.Hour); end.After(today) {
		end = today
	}

	var dates []time.Time
	for date := src.Start; !date.After(end); date = date.AddDate(0, 0, 1) {
		dates = append(dates, date)
	}
	if lastDays > 0 && len(dates) > lastDays {
		dates = dates[len(dates)-lastDays:]
	}
	return dates
}
