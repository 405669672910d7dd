package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinec/hlpipe/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	require.Len(t, catalog, 3)
	assert.Equal(t, domain.SourceNodeTrades, catalog[0].Name)
	assert.Equal(t, 3, catalog[0].Priority)
	assert.Equal(t, domain.SourceNodeFillsByBlock, catalog[2].Name)
	assert.Equal(t, 1, catalog[2].Priority)
}

func TestLoadMergesTOMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "aggregate"

[pipeline]
workers = 12

[paths]
raw_dir = "/srv/raw"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "aggregate", cfg.Mode)
	assert.Equal(t, 12, cfg.Pipeline.Workers)
	assert.Equal(t, "/srv/raw", cfg.Paths.RawDir)
	// Untouched sections keep their defaults.
	assert.Equal(t, "hl-mainnet-node-data", cfg.S3.Bucket)
	assert.True(t, cfg.Pipeline.SkipExisting)
	assert.Len(t, cfg.Datasets, 3)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HLPIPE_MODE", "report")
	t.Setenv("HLPIPE_WORKERS", "2")
	t.Setenv("HLPIPE_S3_ACCESS_KEY", "ak")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "sk")
	t.Setenv("HLPIPE_SKIP_EXISTING", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "report", cfg.Mode)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, "ak", cfg.S3.AccessKey)
	assert.Equal(t, "sk", cfg.S3.SecretKey)
	assert.False(t, cfg.Pipeline.SkipExisting)
}

func TestEnvOverrideSpecificBeatsAlias(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "alias-ak")
	t.Setenv("HLPIPE_S3_ACCESS_KEY", "specific-ak")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "alias-sk")
	t.Setenv("HLPIPE_S3_SECRET_KEY", "specific-sk")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "specific-ak", cfg.S3.AccessKey)
	assert.Equal(t, "specific-sk", cfg.S3.SecretKey)
}

func TestValidateRejectsBadModeAndWorkers(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "stream"
	cfg.Pipeline.Workers = 0
	cfg.Cache.MaxEntries = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "stream"`)
	assert.Contains(t, err.Error(), "workers must be >= 1")
	assert.Contains(t, err.Error(), "max_entries must be >= 1")
}

func TestValidateRequiresS3ForDownload(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "download"
	cfg.S3.Bucket = ""
	cfg.S3.Concurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket must not be empty")
	assert.Contains(t, err.Error(), "concurrency must be >= 1")

	// The same gaps are fine for local-only modes.
	cfg.Mode = "normalize"
	require.NoError(t, cfg.Validate())
}

func TestValidateCatalog(t *testing.T) {
	t.Run("priority tie on overlapping windows", func(t *testing.T) {
		cfg := Defaults()
		cfg.Datasets = []DatasetConfig{
			{Name: "a", Path: "a/hourly", Start: "2025-01-01", End: "2025-02-01", Priority: 1},
			{Name: "b", Path: "b/hourly", Start: "2025-01-15", End: "2025-03-01", Priority: 1},
		}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overlap with equal priority 1")
	})

	t.Run("equal priority allowed when disjoint", func(t *testing.T) {
		cfg := Defaults()
		cfg.Datasets = []DatasetConfig{
			{Name: "a", Path: "a/hourly", Start: "2025-01-01", End: "2025-02-01", Priority: 1},
			{Name: "b", Path: "b/hourly", Start: "2025-02-02", End: "2025-03-01", Priority: 1},
		}
		require.NoError(t, cfg.Validate())
	})

	t.Run("inverted window", func(t *testing.T) {
		cfg := Defaults()
		cfg.Datasets = []DatasetConfig{
			{Name: "a", Path: "a/hourly", Start: "2025-02-01", End: "2025-01-01", Priority: 1},
		}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "precedes start")
	})

	t.Run("duplicate names and bad dates", func(t *testing.T) {
		cfg := Defaults()
		cfg.Datasets = []DatasetConfig{
			{Name: "a", Path: "a/hourly", Start: "2025-01-01", End: "2025-02-01", Priority: 1},
			{Name: "a", Path: "a/hourly", Start: "20250101", End: "2025-02-01", Priority: 2},
		}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate name "a"`)
		assert.Contains(t, err.Error(), "start must be YYYY-MM-DD")
	})
}
