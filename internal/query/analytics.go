// Package query serves parametrized analytical queries against the
// aggregate database. Reads prefer the pre-aggregated tables; queries that
// need a coin filter fall back to grouping the per-(date,user,coin) table,
// trading a larger scan for filter correctness. Results are memoized in a
// bounded LRU keyed on the normalized query shape and the whole cache is
// dropped whenever the database is rebuilt.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/avelinec/hlpipe/internal/domain"
)

// DefaultVolumeThresholds are the bucket boundaries used when the caller
// passes none, in quote-currency notional.
var DefaultVolumeThresholds = []float64{100, 1_000, 10_000, 100_000, 1_000_000}

// Analytics is the query interface over the aggregate database. Safe for
// concurrent readers, including while Refresh swaps the handle.
type Analytics struct {
	dbPath string
	cache  *resultCache
	logger *slog.Logger

	mu sync.RWMutex
	db *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
}

// Open connects to the aggregate database at dbPath. The database must have
// been built already; use the aggregation builder first.
func Open(dbPath string, cacheEntries int, logger *slog.Logger) (*Analytics, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("query: database %s: %w", dbPath, domain.ErrNotFound)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("query: open %s: %w", dbPath, err)
	}
	cache, err := newResultCache(cacheEntries)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("query: cache: %w", err)
	}
	return &Analytics{
		dbPath: dbPath,
		db:     db,
		cache:  cache,
		logger: logger.With(slog.String("component", "query")),
	}, nil
}

// query starts q on the current handle. The read lock spans only the query
// start: once a query is running, Close on a swapped-out handle waits for it,
// so Rows iteration needs no lock.
func (a *Analytics) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.db.QueryContext(ctx, q, args...)
}

func (a *Analytics) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.db.QueryRowContext(ctx, q, args...)
}

// Close releases the database handle.
func (a *Analytics) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}

// Refresh must be called after every aggregate rebuild: the rebuild swapped
// the database file underneath, so the handle is reopened and the entire
// result cache is dropped.
func (a *Analytics) Refresh() error {
	db, err := sql.Open("sqlite", a.dbPath)
	if err != nil {
		return fmt.Errorf("query: reopen %s: %w", a.dbPath, err)
	}

	a.mu.Lock()
	old := a.db
	a.db = db
	closeErr := old.Close()
	a.mu.Unlock()

	if closeErr != nil {
		return fmt.Errorf("query: close for refresh: %w", closeErr)
	}
	a.cache.purge()
	a.logger.Debug("query cache invalidated after rebuild")
	return nil
}

// CacheStats returns cumulative cache hits and misses plus the current
// number of cached shapes.
func (a *Analytics) CacheStats() (hits, misses int64, entries int) {
	return a.hits.Load(), a.misses.Load(), a.cache.len()
}

// cached runs fn on a cache miss for key and memoizes its result.
func cached[T any](a *Analytics, key string, fn func() (T, error)) (T, error) {
	if v, ok := a.cache.get(key); ok {
		if t, ok := v.(T); ok {
			a.hits.Add(1)
			return t, nil
		}
	}
	a.misses.Add(1)
	t, err := fn()
	if err != nil {
		return t, err
	}
	a.cache.add(key, t)
	return t, nil
}

// filter accumulates WHERE clauses and their bind arguments.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, args ...any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, args...)
}

func (f *filter) addRange(column, start, end string) {
	if start != "" {
		f.add(column+" >= ?", start)
	}
	if end != "" {
		f.add(column+" <= ?", end)
	}
}

func (f *filter) addCoins(coins []string) {
	switch len(coins) {
	case 0:
	case 1:
		f.add("coin = ?", coins[0])
	default:
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(coins)), ",")
		args := make([]any, len(coins))
		for i, c := range coins {
			args[i] = c
		}
		f.add("coin IN ("+placeholders+")", args...)
	}
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(f.clauses, " AND ")
}

// DAURow is one day of activity.
type DAURow struct {
	Date        string
	DAU         int64
	TotalVolume float64
	TotalTrades int64
}

// DAU returns daily active users over an optional inclusive date range and
// optional coin filter. Without a coin filter the pre-aggregated
// daily_metrics table answers directly; with one, the per-(date,user,coin)
// table is regrouped.
func (a *Analytics) DAU(ctx context.Context, start, end string, coins []string) ([]DAURow, error) {
	key := shapeKey("dau", start, end, canonCoins(coins))
	return cached(a, key, func() ([]DAURow, error) {
		var f filter
		f.addRange("date", start, end)

		var q string
		if len(coins) == 0 {
			q = `SELECT date, dau, total_volume, total_trades FROM daily_metrics ` +
				f.where() + ` ORDER BY date`
		} else {
			f.addCoins(coins)
			q = `SELECT date,
       COUNT(DISTINCT user_address) AS dau,
       SUM(daily_volume) AS total_volume,
       SUM(trade_count) AS total_trades
FROM daily_user_volume ` + f.where() + `
GROUP BY date ORDER BY date`
		}

		rows, err := a.query(ctx, q, f.args...)
		if err != nil {
			return nil, fmt.Errorf("query: dau: %w", err)
		}
		defer rows.Close()

		var out []DAURow
		for rows.Next() {
			var r DAURow
			var vol sql.NullFloat64
			if err := rows.Scan(&r.Date, &r.DAU, &vol, &r.TotalTrades); err != nil {
				return nil, fmt.Errorf("query: dau scan: %w", err)
			}
			r.TotalVolume = vol.Float64
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// MAURow is one month of activity.
type MAURow struct {
	Month       string
	MAU         int64
	TotalVolume float64
	TotalTrades int64
}

// MAU returns monthly active users, optionally restricted to one
// "YYYY-MM" month and/or a coin filter.
func (a *Analytics) MAU(ctx context.Context, month string, coins []string) ([]MAURow, error) {
	key := shapeKey("mau", month, canonCoins(coins))
	return cached(a, key, func() ([]MAURow, error) {
		var f filter
		if month != "" {
			f.add("strftime('%Y-%m', date) = ?", month)
		}
		f.addCoins(coins)

		q := `SELECT strftime('%Y-%m', date) AS month,
       COUNT(DISTINCT user_address) AS mau,
       SUM(daily_volume) AS total_volume,
       SUM(trade_count) AS total_trades
FROM daily_user_volume ` + f.where() + `
GROUP BY month ORDER BY month`

		rows, err := a.query(ctx, q, f.args...)
		if err != nil {
			return nil, fmt.Errorf("query: mau: %w", err)
		}
		defer rows.Close()

		var out []MAURow
		for rows.Next() {
			var r MAURow
			var vol sql.NullFloat64
			if err := rows.Scan(&r.Month, &r.MAU, &vol, &r.TotalTrades); err != nil {
				return nil, fmt.Errorf("query: mau scan: %w", err)
			}
			r.TotalVolume = vol.Float64
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// VolumeBucketRow is one (date, bucket) cell of the daily user volume
// distribution.
type VolumeBucketRow struct {
	Date         string
	Bucket       string
	UserCount    int64
	BucketVolume float64
}

// VolumeBuckets returns the per-day distribution of users across notional
// volume buckets. Thresholds are ascending bucket boundaries; nil selects
// DefaultVolumeThresholds.
func (a *Analytics) VolumeBuckets(ctx context.Context, start, end string, thresholds []float64, coins []string) ([]VolumeBucketRow, error) {
	if len(thresholds) == 0 {
		thresholds = DefaultVolumeThresholds
	}
	key := shapeKey("volume_buckets", start, end, canonThresholds(thresholds), canonCoins(coins))
	return cached(a, key, func() ([]VolumeBucketRow, error) {
		var f filter
		f.addRange("date", start, end)
		f.addCoins(coins)

		q := `WITH user_daily_total AS (
  SELECT date, user_address, SUM(daily_volume) AS daily_volume
  FROM daily_user_volume ` + f.where() + `
  GROUP BY date, user_address
)
SELECT date, ` + bucketCase(thresholds) + ` AS volume_bucket,
       COUNT(*) AS user_count,
       SUM(daily_volume) AS bucket_volume
FROM user_daily_total
GROUP BY date, volume_bucket
ORDER BY date`

		rows, err := a.query(ctx, q, f.args...)
		if err != nil {
			return nil, fmt.Errorf("query: volume buckets: %w", err)
		}
		defer rows.Close()

		var out []VolumeBucketRow
		for rows.Next() {
			var r VolumeBucketRow
			var vol sql.NullFloat64
			if err := rows.Scan(&r.Date, &r.Bucket, &r.UserCount, &vol); err != nil {
				return nil, fmt.Errorf("query: volume buckets scan: %w", err)
			}
			r.BucketVolume = vol.Float64
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// bucketCase builds the CASE expression labelling each user-day with its
// volume bucket. Thresholds are numeric literals, never user strings.
func bucketCase(thresholds []float64) string {
	var b strings.Builder
	b.WriteString("CASE")
	for i, t := range thresholds {
		lit := strconv.FormatFloat(t, 'f', -1, 64)
		if i == 0 {
			fmt.Fprintf(&b, " WHEN daily_volume < %s THEN '< $%s'", lit, humanize.CommafWithDigits(t, 0))
		} else {
			prev := strconv.FormatFloat(thresholds[i-1], 'f', -1, 64)
			fmt.Fprintf(&b, " WHEN daily_volume >= %s AND daily_volume < %s THEN '$%s - $%s'",
				prev, lit,
				humanize.CommafWithDigits(thresholds[i-1], 0),
				humanize.CommafWithDigits(t, 0))
		}
	}
	last := thresholds[len(thresholds)-1]
	fmt.Fprintf(&b, " ELSE '>= $%s' END", humanize.CommafWithDigits(last, 0))
	return b.String()
}

// TopUserRow is one entry of the top-users-by-volume ranking.
type TopUserRow struct {
	UserAddress string
	TotalTrades int64
	TotalVolume float64
	ActiveDays  int64
	UniqueCoins int64
}

// TopUsers returns the highest-volume users over an optional date range.
func (a *Analytics) TopUsers(ctx context.Context, limit int, start, end string) ([]TopUserRow, error) {
	if limit <= 0 {
		limit = 100
	}
	key := shapeKey("top_users", strconv.Itoa(limit), start, end)
	return cached(a, key, func() ([]TopUserRow, error) {
		var f filter
		f.addRange("date", start, end)

		q := `SELECT user_address,
       SUM(trade_count) AS total_trades,
       SUM(daily_volume) AS total_volume,
       COUNT(DISTINCT date) AS active_days,
       COUNT(DISTINCT coin) AS unique_coins
FROM daily_user_volume ` + f.where() + `
GROUP BY user_address
ORDER BY total_volume DESC
LIMIT ?`
		args := append(f.args, limit)

		rows, err := a.query(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("query: top users: %w", err)
		}
		defer rows.Close()

		var out []TopUserRow
		for rows.Next() {
			var r TopUserRow
			var vol sql.NullFloat64
			if err := rows.Scan(&r.UserAddress, &r.TotalTrades, &vol, &r.ActiveDays, &r.UniqueCoins); err != nil {
				return nil, fmt.Errorf("query: top users scan: %w", err)
			}
			r.TotalVolume = vol.Float64
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// CoinStatRow is one coin's aggregate statistics.
type CoinStatRow struct {
	Coin          string
	TotalTrades   int64
	UniqueTraders int64
	TotalVolume   float64
}

// CoinStatistics returns per-coin totals over an optional date range,
// ordered by volume descending.
func (a *Analytics) CoinStatistics(ctx context.Context, start, end string) ([]CoinStatRow, error) {
	key := shapeKey("coin_statistics", start, end)
	return cached(a, key, func() ([]CoinStatRow, error) {
		var f filter
		f.addRange("date", start, end)

		q := `SELECT coin,
       SUM(trade_count) AS total_trades,
       COUNT(DISTINCT user_address) AS unique_traders,
       SUM(daily_volume) AS total_volume
FROM daily_user_volume ` + f.where() + `
GROUP BY coin
ORDER BY total_volume DESC`

		rows, err := a.query(ctx, q, f.args...)
		if err != nil {
			return nil, fmt.Errorf("query: coin statistics: %w", err)
		}
		defer rows.Close()

		var out []CoinStatRow
		for rows.Next() {
			var r CoinStatRow
			var vol sql.NullFloat64
			if err := rows.Scan(&r.Coin, &r.TotalTrades, &r.UniqueTraders, &vol); err != nil {
				return nil, fmt.Errorf("query: coin statistics scan: %w", err)
			}
			r.TotalVolume = vol.Float64
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// NewUsersRow is one day of first-time traders.
type NewUsersRow struct {
	Date     string
	NewUsers int64
}

// DailyNewUsers returns the number of users whose first trade fell on each
// date.
func (a *Analytics) DailyNewUsers(ctx context.Context) ([]NewUsersRow, error) {
	return cached(a, shapeKey("daily_new_users"), func() ([]NewUsersRow, error) {
		rows, err := a.query(ctx, `
SELECT first_trade_date AS date, COUNT(*) AS new_users
FROM user_first_trade
GROUP BY first_trade_date
ORDER BY first_trade_date`)
		if err != nil {
			return nil, fmt.Errorf("query: daily new users: %w", err)
		}
		defer rows.Close()

		var out []NewUsersRow
		for rows.Next() {
			var r NewUsersRow
			if err := rows.Scan(&r.Date, &r.NewUsers); err != nil {
				return nil, fmt.Errorf("query: daily new users scan: %w", err)
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// Summary is the high-level dataset overview.
type Summary struct {
	TotalFills   int64
	UniqueUsers  int64
	UniqueCoins  int64
	TotalDays    int64
	EarliestDate string
	LatestDate   string
	TotalVolume  float64
	TotalTrades  int64
}

// DataSummary returns dataset-wide totals from the aggregate tables.
func (a *Analytics) DataSummary(ctx context.Context) (Summary, error) {
	return cached(a, shapeKey("data_summary"), func() (Summary, error) {
		var s Summary
		var earliest, latest sql.NullString
		var volume sql.NullFloat64
		var trades sql.NullInt64
		err := a.queryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM fills),
  (SELECT COUNT(*) FROM user_first_trade),
  (SELECT COUNT(DISTINCT coin) FROM fills),
  (SELECT COUNT(DISTINCT date) FROM daily_metrics),
  (SELECT MIN(date) FROM daily_metrics),
  (SELECT MAX(date) FROM daily_metrics),
  (SELECT SUM(total_volume) FROM daily_metrics),
  (SELECT SUM(total_trades) FROM daily_metrics)`).
			Scan(&s.TotalFills, &s.UniqueUsers, &s.UniqueCoins, &s.TotalDays,
				&earliest, &latest, &volume, &trades)
		if err != nil {
			return s, fmt.Errorf("query: data summary: %w", err)
		}
		s.EarliestDate = earliest.String
		s.LatestDate = latest.String
		s.TotalVolume = volume.Float64
		s.TotalTrades = trades.Int64
		return s, nil
	})
}

// Table is a generic result set for custom queries.
type Table struct {
	Columns []string
	Rows    [][]any
}

// CustomQuery executes an arbitrary read-only SQL statement and returns the
// raw result table. Custom queries bypass the cache.
func (a *Analytics) CustomQuery(ctx context.Context, text string) (*Table, error) {
	rows, err := a.query(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("query: custom: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: custom columns: %w", err)
	}

	table := &Table{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: custom scan: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, values)
	}
	return table, rows.Err()
}
