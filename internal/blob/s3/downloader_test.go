package s3blob

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinec/hlpipe/internal/domain"
)

func src(name, path, start, end string) domain.DatasetSource {
	s, err := time.Parse(domain.DateLayout, start)
	if err != nil {
		panic(err)
	}
	e, err := time.Parse(domain.DateLayout, end)
	if err != nil {
		panic(err)
	}
	return domain.DatasetSource{Name: name, Path: path, Start: s, End: e}
}

func TestDatesFor(t *testing.T) {
	s := src("node_fills", "node_fills/hourly", "2025-06-01", "2025-06-05")

	dates := datesFor(s, 0)
	require.Len(t, dates, 5)
	assert.Equal(t, "2025-06-01", dates[0].Format(domain.DateLayout))
	assert.Equal(t, "2025-06-05", dates[4].Format(domain.DateLayout))

	tail := datesFor(s, 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "2025-06-04", tail[0].Format(domain.DateLayout))
	assert.Equal(t, "2025-06-05", tail[1].Format(domain.DateLayout))
}

func TestDatesForCapsAtToday(t *testing.T) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	s := domain.DatasetSource{
		Name:  "node_fills_by_block",
		Path:  "node_fills_by_block/hourly",
		Start: today.AddDate(0, 0, -2),
		End:   today.AddDate(0, 0, 30),
	}

	dates := datesFor(s, 0)
	require.Len(t, dates, 3)
	assert.Equal(t, today.Format(domain.DateLayout), dates[2].Format(domain.DateLayout))
}

func TestNewDownloaderConfiguresTransferManager(t *testing.T) {
	client, err := New(context.Background(), ClientConfig{
		Region:    "ap-northeast-1",
		Bucket:    "hl-mainnet-node-data",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)

	d := NewDownloader(client, t.TempDir(), "", 2, nil)
	require.NotNil(t, d.transfer)
	assert.Equal(t, downloadPartSize, d.transfer.PartSize)
}

func TestDatePrefix(t *testing.T) {
	s := src("node_trades", "node_trades/hourly", "2025-03-22", "2025-06-21")
	date, _ := time.Parse(domain.DateLayout, "2025-03-22")

	assert.Equal(t, "node_trades/hourly/20250322/", datePrefix("", s, date))
	assert.Equal(t, "raw/node_trades/hourly/20250322/", datePrefix("raw", s, date))
}

func TestTransferCostTiers(t *testing.T) {
	gb := int64(1 << 30)

	// Entirely within the first tier.
	assert.True(t, transferCost(100*gb).Equal(decimal.RequireFromString("9")))

	// Zero bytes costs nothing.
	assert.True(t, transferCost(0).IsZero())

	// 10 TiB exactly fills tier one; one extra GiB spills into tier two.
	tierOne := decimal.RequireFromString("921.6")
	assert.True(t, transferCost(10*1024*gb).Equal(tierOne))
	assert.True(t, transferCost(10*1024*gb+gb).Equal(tierOne.Add(decimal.RequireFromString("0.085"))))
}

func TestRequestCost(t *testing.T) {
	// 2000 listings and one million objects.
	got := requestCost(2000, 1_000_000)
	assert.True(t, got.Equal(decimal.RequireFromString("0.41")), got.String())
}
