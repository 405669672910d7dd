// Package aggregate materializes the analytical database from the canonical
// partitions: a typed fills table plus three derived summary tables
// (daily_user_volume, user_first_trade, daily_metrics). A rebuild is
// all-or-nothing: the database is built in a temporary file next to the
// final path and published with an atomic rename, so readers see either the
// previous table set or the new one, never a mix. Aggregates are never
// patched incrementally; every rebuild derives them from scratch.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/avelinec/hlpipe/internal/domain"
	"github.com/avelinec/hlpipe/internal/partition"
)

// Volume convention: only the ask-side leg of each trade is counted, so a
// trade's notional enters the volume tables exactly once instead of once per
// counterparty.
const volumeSide = domain.SideAsk

// Builder rebuilds the analytical database from the partition store.
type Builder struct {
	store  *partition.Store
	dbPath string
	logger *slog.Logger
}

// NewBuilder creates a Builder that reads from store and publishes to
// dbPath.
func NewBuilder(store *partition.Store, dbPath string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:  store,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "aggregate")),
	}
}

// DatabaseExists reports whether a published analytical database is present.
func (b *Builder) DatabaseExists() bool {
	_, err := os.Stat(b.dbPath)
	return err == nil
}

// Rebuild derives the full table set from the canonical partitions and
// atomically replaces the published database. The previous database stays
// readable until the final rename.
func (b *Builder) Rebuild(ctx context.Context) error {
	start := time.Now()

	tmpPath := b.dbPath + ".rebuild"
	// A leftover temp database from a crashed rebuild is dead weight.
	_ = os.Remove(tmpPath)

	db, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return fmt.Errorf("aggregate: open temp database: %w", err)
	}

	err = b.build(ctx, db)
	cerr := db.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if cerr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("aggregate: close temp database: %w", cerr)
	}

	if err := os.Rename(tmpPath, b.dbPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("aggregate: publish database: %w", err)
	}

	b.logger.Info("aggregate rebuild complete",
		slog.String("database", b.dbPath),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (b *Builder) build(ctx context.Context, db *sql.DB) error {
	// The temp database is discarded wholesale on any failure, so crash
	// safety comes from the final rename, not the journal.
	for _, pragma := range []string{
		`PRAGMA journal_mode=OFF;`,
		`PRAGMA synchronous=OFF;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("aggregate: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE fills (
  date TEXT NOT NULL,
  px REAL,
  sz REAL,
  notional REAL,
  closed_pnl REAL,
  fee REAL,
  user_address TEXT NOT NULL,
  coin TEXT NOT NULL,
  side TEXT NOT NULL,
  hash TEXT NOT NULL,
  time INTEGER NOT NULL,
  dataset_source TEXT NOT NULL
);`); err != nil {
		return fmt.Errorf("aggregate: create fills: %w", err)
	}

	dates, err := b.store.List()
	if err != nil {
		return err
	}

	var total int64
	for _, date := range dates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := b.loadPartition(ctx, db, date)
		if err != nil {
			return err
		}
		total += n
	}

	b.logger.Info("fills loaded",
		slog.Int("partitions", len(dates)),
		slog.Int64("records", total),
	)

	// Derived tables, each a pure reduction over fills.
	derivations := []struct {
		name string
		stmt string
	}{
		{"daily_user_volume", `
CREATE TABLE daily_user_volume AS
SELECT
  date,
  user_address,
  coin,
  SUM(notional) AS daily_volume,
  COUNT(*) AS trade_count
FROM fills
WHERE side = '` + volumeSide + `'
GROUP BY date, user_address, coin;`},
		{"user_first_trade", `
CREATE TABLE user_first_trade AS
SELECT
  user_address,
  MIN(date) AS first_trade_date
FROM fills
GROUP BY user_address;`},
		{"daily_metrics", `
CREATE TABLE daily_metrics AS
SELECT
  date,
  COUNT(DISTINCT user_address) AS dau,
  SUM(CASE WHEN side = '` + volumeSide + `' THEN notional ELSE 0 END) AS total_volume,
  COUNT(DISTINCT CASE WHEN side = '` + volumeSide + `' THEN hash END) AS total_trades
FROM fills
GROUP BY date;`},
	}
	for _, d := range derivations {
		if _, err := db.ExecContext(ctx, d.stmt); err != nil {
			return fmt.Errorf("aggregate: build %s: %w", d.name, err)
		}
	}

	indexes := []string{
		`CREATE INDEX idx_fills_date ON fills(date);`,
		`CREATE INDEX idx_fills_user ON fills(user_address);`,
		`CREATE INDEX idx_duv_date ON daily_user_volume(date);`,
		`CREATE INDEX idx_duv_coin ON daily_user_volume(coin);`,
		`CREATE INDEX idx_metrics_date ON daily_metrics(date);`,
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("aggregate: %s: %w", idx, err)
		}
	}

	if _, err := db.ExecContext(ctx, `ANALYZE;`); err != nil {
		return fmt.Errorf("aggregate: analyze: %w", err)
	}
	return nil
}

// loadPartition inserts one date's fills. Partitions are read one at a time,
// keeping the rebuild's memory bounded to a single date.
func (b *Builder) loadPartition(ctx context.Context, db *sql.DB, date time.Time) (int64, error) {
	fills, err := b.store.Read(date)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("aggregate: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO fills (date, px, sz, notional, closed_pnl, fee, user_address, coin, side, hash, time, dataset_source)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("aggregate: prepare insert: %w", err)
	}
	defer stmt.Close()

	dateStr := date.Format(domain.DateLayout)
	for _, f := range fills {
		if _, err := stmt.ExecContext(ctx,
			dateStr,
			parseReal(f.Px),
			parseReal(f.Sz),
			notional(f.Px, f.Sz),
			parseRealPtr(f.ClosedPnl),
			parseRealPtr(f.Fee),
			f.UserAddress,
			f.Coin,
			f.Side,
			f.Hash,
			f.Time,
			f.DatasetSource,
		); err != nil {
			return 0, fmt.Errorf("aggregate: insert fill (%s): %w", dateStr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("aggregate: commit %s: %w", dateStr, err)
	}
	return int64(len(fills)), nil
}

// notional computes px*sz exactly from the canonical decimal strings before
// the single lossy conversion to a REAL column.
func notional(px, sz string) sql.NullFloat64 {
	p, perr := decimal.NewFromString(px)
	s, serr := decimal.NewFromString(sz)
	if perr != nil || serr != nil {
		return sql.NullFloat64{}
	}
	v, _ := p.Mul(s).Float64()
	return sql.NullFloat64{Float64: v, Valid: true}
}

func parseReal(s string) sql.NullFloat64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func parseRealPtr(s *string) sql.NullFloat64 {
	if s == nil {
		return sql.NullFloat64{}
	}
	return parseReal(*s)
}
