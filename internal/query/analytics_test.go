package query

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinec/hlpipe/internal/aggregate"
	"github.com/avelinec/hlpipe/internal/domain"
	"github.com/avelinec/hlpipe/internal/partition"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func fill(user, coin, side, px, sz, hash string, ts int64) domain.NormalizedFill {
	return domain.NormalizedFill{
		Coin:          coin,
		Px:            px,
		Sz:            sz,
		Side:          side,
		Time:          ts,
		Hash:          hash,
		UserAddress:   user,
		DatasetSource: domain.SourceNodeFills,
	}
}

// fixture builds a two-day aggregate database and returns an open Analytics
// plus the builder and store for rebuild scenarios.
func fixture(t *testing.T) (*Analytics, *aggregate.Builder, *partition.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := partition.NewStore(t.TempDir())

	_, err := store.Write(day("2025-07-01"), []domain.NormalizedFill{
		fill("0xaaa", "BTC", domain.SideAsk, "10", "2", "h1", 1751328000000),
		fill("0xbbb", "ETH", domain.SideAsk, "5", "1", "h2", 1751328001000),
		fill("0xaaa", "BTC", domain.SideBid, "10", "2", "h1b", 1751328002000),
	})
	require.NoError(t, err)
	_, err = store.Write(day("2025-07-02"), []domain.NormalizedFill{
		fill("0xaaa", "BTC", domain.SideAsk, "10", "1", "h3", 1751414400000),
		fill("0xccc", "ETH", domain.SideAsk, "100", "3", "h4", 1751414401000),
		fill("0xbbb", "ETH", domain.SideBid, "7", "1", "h5", 1751414402000),
	})
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "aggregates.db")
	builder := aggregate.NewBuilder(store, dbPath, logger)
	require.NoError(t, builder.Rebuild(context.Background()))

	a, err := Open(dbPath, 32, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, builder, store
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"), 32, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDAU(t *testing.T) {
	a, _, _ := fixture(t)
	ctx := context.Background()

	rows, err := a.DAU(ctx, "", "", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2025-07-01", rows[0].Date)
	assert.EqualValues(t, 2, rows[0].DAU)
	assert.InDelta(t, 25.0, rows[0].TotalVolume, 1e-9)
	assert.EqualValues(t, 3, rows[1].DAU)
	assert.InDelta(t, 310.0, rows[1].TotalVolume, 1e-9)

	// Coin filters regroup the per-coin table, so bid-only users drop out.
	btc, err := a.DAU(ctx, "", "", []string{"BTC"})
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.EqualValues(t, 1, btc[0].DAU)
	assert.InDelta(t, 20.0, btc[0].TotalVolume, 1e-9)
	assert.InDelta(t, 10.0, btc[1].TotalVolume, 1e-9)

	ranged, err := a.DAU(ctx, "2025-07-02", "2025-07-02", nil)
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "2025-07-02", ranged[0].Date)
}

func TestMAU(t *testing.T) {
	a, _, _ := fixture(t)

	rows, err := a.MAU(context.Background(), "2025-07", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-07", rows[0].Month)
	assert.EqualValues(t, 3, rows[0].MAU)
	assert.InDelta(t, 335.0, rows[0].TotalVolume, 1e-9)
	assert.EqualValues(t, 4, rows[0].TotalTrades)

	none, err := a.MAU(context.Background(), "2025-08", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTopUsers(t *testing.T) {
	a, _, _ := fixture(t)

	rows, err := a.TopUsers(context.Background(), 2, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0xccc", rows[0].UserAddress)
	assert.InDelta(t, 300.0, rows[0].TotalVolume, 1e-9)
	assert.Equal(t, "0xaaa", rows[1].UserAddress)
	assert.InDelta(t, 30.0, rows[1].TotalVolume, 1e-9)
	assert.EqualValues(t, 2, rows[1].ActiveDays)
	assert.EqualValues(t, 1, rows[1].UniqueCoins)
}

func TestVolumeBuckets(t *testing.T) {
	a, _, _ := fixture(t)

	rows, err := a.VolumeBuckets(context.Background(), "", "", []float64{100}, nil)
	require.NoError(t, err)

	byKey := map[string]VolumeBucketRow{}
	for _, r := range rows {
		byKey[r.Date+"|"+r.Bucket] = r
	}
	require.Len(t, byKey, 3)
	assert.EqualValues(t, 2, byKey["2025-07-01|< $100"].UserCount)
	assert.EqualValues(t, 1, byKey["2025-07-02|< $100"].UserCount)
	big := byKey["2025-07-02|>= $100"]
	assert.EqualValues(t, 1, big.UserCount)
	assert.InDelta(t, 300.0, big.BucketVolume, 1e-9)
}

func TestDailyNewUsersAndSummary(t *testing.T) {
	a, _, _ := fixture(t)
	ctx := context.Background()

	newUsers, err := a.DailyNewUsers(ctx)
	require.NoError(t, err)
	require.Len(t, newUsers, 2)
	assert.EqualValues(t, 2, newUsers[0].NewUsers)
	assert.EqualValues(t, 1, newUsers[1].NewUsers)

	s, err := a.DataSummary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, s.TotalFills)
	assert.EqualValues(t, 3, s.UniqueUsers)
	assert.EqualValues(t, 2, s.UniqueCoins)
	assert.EqualValues(t, 2, s.TotalDays)
	assert.Equal(t, "2025-07-01", s.EarliestDate)
	assert.Equal(t, "2025-07-02", s.LatestDate)
	assert.InDelta(t, 335.0, s.TotalVolume, 1e-9)
	assert.EqualValues(t, 4, s.TotalTrades)
}

// The per-coin volume table and the daily metrics table are independent
// reductions over fills; their per-date volumes must agree.
func TestVolumeTablesConsistent(t *testing.T) {
	a, _, _ := fixture(t)

	table, err := a.CustomQuery(context.Background(), `
SELECT m.date, m.total_volume, SUM(v.daily_volume)
FROM daily_metrics m
JOIN daily_user_volume v ON v.date = m.date
GROUP BY m.date`)
	require.NoError(t, err)
	require.NotEmpty(t, table.Rows)
	for _, row := range table.Rows {
		assert.InDelta(t, row[1].(float64), row[2].(float64), 1e-9, "date %v", row[0])
	}
}

func TestCustomQueryBypassesCache(t *testing.T) {
	a, _, _ := fixture(t)

	_, _, before := a.CacheStats()
	table, err := a.CustomQuery(context.Background(), `SELECT COUNT(*) AS n FROM fills`)
	require.NoError(t, err)
	require.Equal(t, []string{"n"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.EqualValues(t, 6, table.Rows[0][0])

	_, _, after := a.CacheStats()
	assert.Equal(t, before, after)
}

func TestCacheKeyCanonicalization(t *testing.T) {
	a, _, _ := fixture(t)
	ctx := context.Background()

	_, err := a.DAU(ctx, "", "", []string{"ETH", "BTC", "BTC"})
	require.NoError(t, err)
	_, err = a.DAU(ctx, "", "", []string{"BTC", "ETH"})
	require.NoError(t, err)

	hits, misses, _ := a.CacheStats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
}

func TestRefreshConcurrentWithReads(t *testing.T) {
	a, builder, _ := fixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := a.DataSummary(ctx); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, builder.Rebuild(ctx))
		require.NoError(t, a.Refresh())
	}
	wg.Wait()

	s, err := a.DataSummary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 6, s.TotalFills)
}

func TestRebuildInvalidatesCache(t *testing.T) {
	a, builder, store := fixture(t)
	ctx := context.Background()

	first, err := a.DAU(ctx, "", "", nil)
	require.NoError(t, err)
	require.Len(t, first, 2)

	again, err := a.DAU(ctx, "", "", nil)
	require.NoError(t, err)
	require.Equal(t, first, again)
	hits, _, entries := a.CacheStats()
	require.EqualValues(t, 1, hits)
	require.Greater(t, entries, 0)

	_, err = store.Write(day("2025-07-03"), []domain.NormalizedFill{
		fill("0xddd", "SOL", domain.SideAsk, "50", "2", "h6", 1751500800000),
	})
	require.NoError(t, err)
	require.NoError(t, builder.Rebuild(ctx))
	require.NoError(t, a.Refresh())

	_, _, entries = a.CacheStats()
	assert.Zero(t, entries)

	// The identical signature must re-read the rebuilt database.
	rebuilt, err := a.DAU(ctx, "", "", nil)
	require.NoError(t, err)
	require.Len(t, rebuilt, 3)
	assert.Equal(t, "2025-07-03", rebuilt[2].Date)
}
