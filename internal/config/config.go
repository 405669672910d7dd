// Package config defines the pipeline configuration, including the static
// dataset catalog, and provides loading and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/avelinec/hlpipe/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by HLPIPE_* environment variables.
type Config struct {
	Paths    PathsConfig     `toml:"paths"`
	Pipeline PipelineConfig  `toml:"pipeline"`
	S3       S3Config        `toml:"s3"`
	Cache    CacheConfig     `toml:"cache"`
	Datasets []DatasetConfig `toml:"datasets"`
	Mode     string          `toml:"mode"`
	LogLevel string          `toml:"log_level"`
}

// PathsConfig holds the local directory layout.
type PathsConfig struct {
	// RawDir is the root under which each dataset's hourly files live,
	// laid out as <raw_dir>/<dataset_path>/YYYYMMDD/HH.lz4.
	RawDir string `toml:"raw_dir"`

	// PartitionDir is the root of the canonical date-partitioned store,
	// containing date=YYYY-MM-DD/data.parquet directories.
	PartitionDir string `toml:"partition_dir"`

	// DatabasePath is the analytical database file built from the
	// canonical partitions.
	DatabasePath string `toml:"database_path"`
}

// PipelineConfig holds normalization run parameters.
type PipelineConfig struct {
	// Workers is the width of the per-date worker pool. Each worker owns
	// one date end to end, so memory is bounded to Workers dates of data.
	Workers int `toml:"workers"`

	// ForceRebuild drops and regenerates existing partitions and the
	// aggregate database.
	ForceRebuild bool `toml:"force_rebuild"`

	// SkipExisting leaves dates with a readable partition untouched.
	SkipExisting bool `toml:"skip_existing"`
}

// S3Config holds parameters for the requester-pays source bucket.
type S3Config struct {
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Prefix        string `toml:"prefix"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	RequesterPays bool   `toml:"requester_pays"`

	// Concurrency bounds parallel object downloads.
	Concurrency int `toml:"concurrency"`

	// MaxRetries is the per-object download retry budget.
	MaxRetries int `toml:"max_retries"`

	// LastDays limits downloads to the trailing N days of each dataset's
	// window. Zero means the full window.
	LastDays int `toml:"last_days"`
}

// CacheConfig bounds the query result cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of distinct cached query shapes.
	MaxEntries int `toml:"max_entries"`
}

// DatasetConfig is one catalog entry as written in TOML. Dates are inclusive
// ISO days.
type DatasetConfig struct {
	Name     string `toml:"name"`
	Path     string `toml:"path"`
	Start    string `toml:"start"`
	End      string `toml:"end"`
	Priority int    `toml:"priority"`
}

// Catalog converts the configured dataset entries into domain sources with
// parsed validity windows. It assumes Validate has already passed.
func (c *Config) Catalog() ([]domain.DatasetSource, error) {
	sources := make([]domain.DatasetSource, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		start, err := time.Parse(domain.DateLayout, d.Start)
		if err != nil {
			return nil, fmt.Errorf("config: dataset %s: bad start date %q: %w", d.Name, d.Start, err)
		}
		end, err := time.Parse(domain.DateLayout, d.End)
		if err != nil {
			return nil, fmt.Errorf("config: dataset %s: bad end date %q: %w", d.Name, d.End, err)
		}
		sources = append(sources, domain.DatasetSource{
			Name:     d.Name,
			Path:     d.Path,
			Start:    start,
			End:      end,
			Priority: d.Priority,
		})
	}
	return sources, nil
}

// Validate checks the configuration for internal consistency. It returns an
// error listing every violation found.
func (c *Config) Validate() error {
	var errs []string

	switch c.Mode {
	case "download", "normalize", "aggregate", "report", "validate",
		"availability", "estimate-cost", "full":
	default:
		errs = append(errs, fmt.Sprintf("mode: unsupported mode %q", c.Mode))
	}

	if c.Paths.RawDir == "" {
		errs = append(errs, "paths: raw_dir must not be empty")
	}
	if c.Paths.PartitionDir == "" {
		errs = append(errs, "paths: partition_dir must not be empty")
	}
	if c.Paths.DatabasePath == "" {
		errs = append(errs, "paths: database_path must not be empty")
	}

	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Sprintf("pipeline: workers must be >= 1, got %d", c.Pipeline.Workers))
	}

	if c.Cache.MaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("cache: max_entries must be >= 1, got %d", c.Cache.MaxEntries))
	}

	needsS3 := c.Mode == "download" || c.Mode == "availability" ||
		c.Mode == "estimate-cost" || c.Mode == "full"
	if needsS3 {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Concurrency < 1 {
			errs = append(errs, "s3: concurrency must be >= 1")
		}
	}

	if len(c.Datasets) == 0 {
		errs = append(errs, "datasets: at least one dataset is required")
	}

	errs = append(errs, c.validateCatalog()...)

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateCatalog checks the dataset entries: parseable windows, unique
// names, and no priority ties between sources whose windows overlap. A tie
// would make date authority ambiguous, which is a configuration error.
func (c *Config) validateCatalog() []string {
	var errs []string

	type window struct {
		name       string
		start, end time.Time
		priority   int
	}
	seen := make(map[string]bool)
	var windows []window

	for _, d := range c.Datasets {
		if d.Name == "" {
			errs = append(errs, "datasets: name must not be empty")
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("datasets: duplicate name %q", d.Name))
		}
		seen[d.Name] = true

		if d.Path == "" {
			errs = append(errs, fmt.Sprintf("datasets: %s: path must not be empty", d.Name))
		}

		start, serr := time.Parse(domain.DateLayout, d.Start)
		if serr != nil {
			errs = append(errs, fmt.Sprintf("datasets: %s: start must be YYYY-MM-DD, got %q", d.Name, d.Start))
		}
		end, eerr := time.Parse(domain.DateLayout, d.End)
		if eerr != nil {
			errs = append(errs, fmt.Sprintf("datasets: %s: end must be YYYY-MM-DD, got %q", d.Name, d.End))
		}
		if serr == nil && eerr == nil {
			if end.Before(start) {
				errs = append(errs, fmt.Sprintf("datasets: %s: end %s precedes start %s", d.Name, d.End, d.Start))
			}
			windows = append(windows, window{d.Name, start, end, d.Priority})
		}
	}

	// Overlapping windows must not share a priority rank.
	for i := 0; i < len(windows); i++ {
		for j := i + 1; j < len(windows); j++ {
			a, b := windows[i], windows[j]
			overlaps := !a.end.Before(b.start) && !b.end.Before(a.start)
			if overlaps && a.priority == b.priority {
				errs = append(errs, fmt.Sprintf(
					"datasets: %s and %s overlap with equal priority %d",
					a.name, b.name, a.priority))
			}
		}
	}

	return errs
}
