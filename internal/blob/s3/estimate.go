package s3blob

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/avelinec/hlpipe/internal/domain"
)

// Requester-pays pricing for the bucket's region. Transfer out is tiered by
// cumulative monthly volume; request charges are flat per thousand.
var (
	transferTiers = []struct {
		gb    decimal.Decimal
		price decimal.Decimal
	}{
		{decimal.NewFromInt(10 * 1024), decimal.RequireFromString("0.09")},
		{decimal.NewFromInt(40 * 1024), decimal.RequireFromString("0.085")},
		{decimal.NewFromInt(100 * 1024), decimal.RequireFromString("0.07")},
	}
	transferOverflowPrice = decimal.RequireFromString("0.05")

	listPricePerThousand = decimal.RequireFromString("0.005")
	getPricePerThousand  = decimal.RequireFromString("0.0004")

	bytesPerGB = decimal.NewFromInt(1 << 30)
)

// SourceCost is the estimated download cost for one dataset source.
type SourceCost struct {
	Source  string
	Objects int64
	Bytes   int64
}

// CostEstimate is the projected cost of downloading every listed object.
type CostEstimate struct {
	Sources []SourceCost
	Objects int64
	Bytes   int64

	TransferUSD decimal.Decimal
	RequestUSD  decimal.Decimal
	TotalUSD    decimal.Decimal
}

// Estimator projects the requester-pays cost of a full download by listing
// object sizes without fetching any data. Listings themselves are billed,
// but at a small fraction of the transfer cost.
type Estimator struct {
	reader *Reader
	prefix string
	logger *slog.Logger
}

// NewEstimator creates an Estimator over the given client's bucket.
func NewEstimator(client *Client, prefix string, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		reader: NewReader(client),
		prefix: prefix,
		logger: logger.With(slog.String("component", "estimator")),
	}
}

// Estimate lists each source's window and prices the full download. lastDays
// restricts each source to its trailing N dates, mirroring the downloader.
func (e *Estimator) Estimate(ctx context.Context, sources []domain.DatasetSource, lastDays int) (*CostEstimate, error) {
	est := &CostEstimate{}
	var listCalls int64

	for _, src := range sources {
		sc := SourceCost{Source: src.Name}
		for _, date := range datesFor(src, lastDays) {
			infos, err := e.reader.List(ctx, datePrefix(e.prefix, src, date))
			if err != nil {
				return nil, err
			}
			listCalls++
			sc.Objects += int64(len(infos))
			for _, info := range infos {
				sc.Bytes += info.Size
			}
		}
		est.Sources = append(est.Sources, sc)
		est.Objects += sc.Objects
		est.Bytes += sc.Bytes
	}

	est.TransferUSD = transferCost(est.Bytes)
	est.RequestUSD = requestCost(listCalls, est.Objects)
	est.TotalUSD = est.TransferUSD.Add(est.RequestUSD)

	e.logger.Info("cost estimated",
		slog.Int64("objects", est.Objects),
		slog.Int64("bytes", est.Bytes),
		slog.String("total_usd", est.TotalUSD.StringFixed(2)),
	)
	return est, nil
}

// transferCost prices a transfer volume across the tiered rate schedule.
func transferCost(bytes int64) decimal.Decimal {
	remaining := decimal.NewFromInt(bytes).Div(bytesPerGB)
	cost := decimal.Zero
	for _, tier := range transferTiers {
		if remaining.IsZero() || remaining.IsNegative() {
			return cost
		}
		inTier := decimal.Min(remaining, tier.gb)
		cost = cost.Add(inTier.Mul(tier.price))
		remaining = remaining.Sub(inTier)
	}
	return cost.Add(remaining.Mul(transferOverflowPrice))
}

// requestCost prices the LIST calls already issued plus one GET per object.
func requestCost(listCalls, objects int64) decimal.Decimal {
	thousand := decimal.NewFromInt(1000)
	lists := decimal.NewFromInt(listCalls).Div(thousand).Mul(listPricePerThousand)
	gets := decimal.NewFromInt(objects).Div(thousand).Mul(getPricePerThousand)
	return lists.Add(gets)
}
