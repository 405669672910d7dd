package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults returns the built-in configuration. The dataset catalog mirrors
// the known validity windows of the three upstream logging formats; operators
// extend or override it in TOML as windows move.
func Defaults() Config {
	return Config{
		Mode:     "normalize",
		LogLevel: "info",
		Paths: PathsConfig{
			RawDir:       "data/hyperliquid",
			PartitionDir: "data/processed/fills.parquet",
			DatabasePath: "data/processed/fills.db",
		},
		Pipeline: PipelineConfig{
			Workers:      4,
			ForceRebuild: false,
			SkipExisting: true,
		},
		S3: S3Config{
			Bucket:        "hl-mainnet-node-data",
			Region:        "ap-northeast-1",
			RequesterPays: true,
			Concurrency:   8,
			MaxRetries:    3,
		},
		Cache: CacheConfig{
			MaxEntries: 128,
		},
		Datasets: []DatasetConfig{
			{
				Name:     "node_trades",
				Path:     "node_trades/hourly",
				Start:    "2025-03-22",
				End:      "2025-06-21",
				Priority: 3,
			},
			{
				Name:     "node_fills",
				Path:     "node_fills/hourly",
				Start:    "2025-05-25",
				End:      "2025-07-27",
				Priority: 2,
			},
			{
				Name:     "node_fills_by_block",
				Path:     "node_fills_by_block/hourly",
				Start:    "2025-07-27",
				End:      "2025-11-07",
				Priority: 1,
			},
		},
	}
}

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HLPIPE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HLPIPE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject credentials at run time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Paths.RawDir, "HLPIPE_RAW_DIR")
	setStr(&cfg.Paths.PartitionDir, "HLPIPE_PARTITION_DIR")
	setStr(&cfg.Paths.DatabasePath, "HLPIPE_DATABASE_PATH")

	setInt(&cfg.Pipeline.Workers, "HLPIPE_WORKERS")
	setBool(&cfg.Pipeline.ForceRebuild, "HLPIPE_FORCE_REBUILD")
	setBool(&cfg.Pipeline.SkipExisting, "HLPIPE_SKIP_EXISTING")

	setStr(&cfg.S3.Bucket, "HLPIPE_S3_BUCKET")
	setStr(&cfg.S3.Region, "HLPIPE_S3_REGION")
	setStr(&cfg.S3.Prefix, "HLPIPE_S3_PREFIX")
	// The standard AWS aliases apply first so the tool-specific variables
	// win when both are set.
	setStr(&cfg.S3.AccessKey, "AWS_ACCESS_KEY_ID")
	setStr(&cfg.S3.AccessKey, "HLPIPE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AWS_SECRET_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HLPIPE_S3_SECRET_KEY")
	setBool(&cfg.S3.RequesterPays, "HLPIPE_S3_REQUESTER_PAYS")
	setInt(&cfg.S3.Concurrency, "HLPIPE_S3_CONCURRENCY")
	setInt(&cfg.S3.MaxRetries, "HLPIPE_S3_MAX_RETRIES")
	setInt(&cfg.S3.LastDays, "HLPIPE_S3_LAST_DAYS")

	setInt(&cfg.Cache.MaxEntries, "HLPIPE_CACHE_MAX_ENTRIES")

	setStr(&cfg.Mode, "HLPIPE_MODE")
	setStr(&cfg.LogLevel, "HLPIPE_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
