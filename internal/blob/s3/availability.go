package s3blob

import (
	"context"
	"log/slog"

	"github.com/avelinec/hlpipe/internal/domain"
)

// DateAvailability records what the bucket holds for one source date.
type DateAvailability struct {
	Date    string
	Objects int64
	Bytes   int64
}

// SourceAvailability summarizes remote coverage of one source's window.
type SourceAvailability struct {
	Source       string
	Expected     int
	Present      int
	MissingDates []string
	Dates        []DateAvailability
}

// Checker reports which dates of each source's validity window actually
// have archives in the bucket, without downloading anything.
type Checker struct {
	reader *Reader
	prefix string
	logger *slog.Logger
}

// NewChecker creates a Checker over the given client's bucket.
func NewChecker(client *Client, prefix string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		reader: NewReader(client),
		prefix: prefix,
		logger: logger.With(slog.String("component", "availability")),
	}
}

// Check lists every date of every source window and reports dates with no
// objects as missing. lastDays restricts each source to its trailing N
// dates.
func (c *Checker) Check(ctx context.Context, sources []domain.DatasetSource, lastDays int) ([]SourceAvailability, error) {
	var out []SourceAvailability
	for _, src := range sources {
		sa := SourceAvailability{Source: src.Name}
		for _, date := range datesFor(src, lastDays) {
			infos, err := c.reader.List(ctx, datePrefix(c.prefix, src, date))
			if err != nil {
				return nil, err
			}

			da := DateAvailability{Date: date.Format(domain.DateLayout)}
			for _, info := range infos {
				da.Objects++
				da.Bytes += info.Size
			}
			sa.Dates = append(sa.Dates, da)

			sa.Expected++
			if da.Objects > 0 {
				sa.Present++
			} else {
				sa.MissingDates = append(sa.MissingDates, da.Date)
			}
		}

		c.logger.Info("source availability",
			slog.String("source", src.Name),
			slog.Int("expected", sa.Expected),
			slog.Int("present", sa.Present),
			slog.Int("missing", len(sa.MissingDates)),
		)
		out = append(out, sa)
	}
	return out, nil
}
