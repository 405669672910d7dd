// Package validate reconciles written partitions against the raw archives
// they were derived from. It recounts raw records, rescales them by the
// source's fill multiplier, and spot-checks the partition rows themselves.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/avelinec/hlpipe/internal/authority"
	"github.com/avelinec/hlpipe/internal/domain"
	"github.com/avelinec/hlpipe/internal/partition"
	"github.com/avelinec/hlpipe/internal/rawio"
)

// DateReport is the reconciliation result for one partition date.
type DateReport struct {
	Date         string
	Source       string
	RawRecords   int64
	ExpectedRows int64
	Rows         int64
	Problems     []string
}

// OK reports whether the date passed every check.
func (d *DateReport) OK() bool {
	return len(d.Problems) == 0
}

// Report is the result of validating every partition.
type Report struct {
	Dates []DateReport

	// MissingPartitions lists covered dates that have raw files but no
	// partition, meaning normalization never completed for them.
	MissingPartitions []string
}

// OK reports whether every date passed and no partitions are missing.
func (r *Report) OK() bool {
	if len(r.MissingPartitions) > 0 {
		return false
	}
	for i := range r.Dates {
		if !r.Dates[i].OK() {
			return false
		}
	}
	return true
}

// Failed returns the number of dates with at least one problem.
func (r *Report) Failed() int {
	var n int
	for i := range r.Dates {
		if !r.Dates[i].OK() {
			n++
		}
	}
	return n
}

// Validator checks written partitions against the raw archives.
type Validator struct {
	rawDir   string
	store    *partition.Store
	resolver *authority.Resolver
	logger   *slog.Logger
}

// NewValidator creates a Validator for the given raw directory and store.
func NewValidator(rawDir string, store *partition.Store, resolver *authority.Resolver, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		rawDir:   rawDir,
		store:    store,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "validate")),
	}
}

// Run validates every partition in the store and checks coverage the other
// way: covered raw dates must have a partition.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	dates, err := v.store.List()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	written := make(map[string]bool, len(dates))
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dr, err := v.checkDate(date)
		if err != nil {
			return report, err
		}
		v.logResult(dr)
		report.Dates = append(report.Dates, *dr)
		written[dr.Date] = true
	}

	rawDates, err := rawio.AllDates(v.rawDir, v.resolver.Sources())
	if err != nil {
		return report, err
	}
	for _, date := range rawDates {
		key := date.Format(domain.DateLayout)
		if written[key] {
			continue
		}
		src, ok := v.resolver.AuthorityFor(date)
		if !ok {
			continue
		}
		files, err := rawio.FilesForDate(v.rawDir, src, date)
		if err != nil {
			return report, err
		}
		if len(files) > 0 {
			report.MissingPartitions = append(report.MissingPartitions, key)
		}
	}
	if len(report.MissingPartitions) > 0 {
		v.logger.Warn("covered dates missing partitions",
			slog.Any("dates", report.MissingPartitions),
		)
	}
	return report, nil
}

func (v *Validator) checkDate(date time.Time) (*DateReport, error) {
	dr := &DateReport{Date: date.Format(domain.DateLayout)}

	src, ok := v.resolver.AuthorityFor(date)
	if !ok {
		dr.Problems = append(dr.Problems, "partition exists for a date no source covers")
		return dr, nil
	}
	dr.Source = src.Name

	files, err := rawio.FilesForDate(v.rawDir, src, date)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		n, err := rawio.CountLines(f)
		if err != nil {
			dr.Problems = append(dr.Problems, fmt.Sprintf("raw file unreadable: %v", err))
			continue
		}
		dr.RawRecords += n
	}
	mult, exact := fillMultiplier(src.Name)
	dr.ExpectedRows = dr.RawRecords * mult

	fills, err := v.store.Read(date)
	if err != nil {
		dr.Problems = append(dr.Problems, fmt.Sprintf("partition unreadable: %v", err))
		return dr, nil
	}
	dr.Rows = int64(len(fills))

	// Any count mismatch is reported. More rows than the raw data can
	// produce is always wrong; a shortfall is flagged too, so the operator
	// can compare it against the run's malformed count before accepting
	// the partition.
	switch {
	case len(files) == 0:
		dr.Problems = append(dr.Problems, "partition exists but no raw files remain")
	case !exact:
		if dr.RawRecords > 0 && dr.Rows == 0 {
			dr.Problems = append(dr.Problems, "raw records present but partition is empty")
		}
	case dr.Rows > dr.ExpectedRows:
		dr.Problems = append(dr.Problems,
			fmt.Sprintf("partition holds %d rows but raw data can produce at most %d", dr.Rows, dr.ExpectedRows))
	case dr.Rows < dr.ExpectedRows:
		dr.Problems = append(dr.Problems,
			fmt.Sprintf("%d raw records did not materialize as fills", dr.ExpectedRows-dr.Rows))
	}

	dr.Problems = append(dr.Problems, checkRows(date, fills)...)
	return dr, nil
}

// checkRows spot-checks row-level invariants: hex user addresses, known
// sides, positive price and size, and timestamps inside the partition date.
func checkRows(date time.Time, fills []domain.NormalizedFill) []string {
	dayStart := date.UnixMilli()
	dayEnd := date.AddDate(0, 0, 1).UnixMilli()

	var badAddr, badSide, badPxSz, badTime int64
	for i := range fills {
		f := &fills[i]
		if !common.IsHexAddress(f.UserAddress) {
			badAddr++
		}
		if f.Side != domain.SideAsk && f.Side != domain.SideBid {
			badSide++
		}
		if !positiveDecimal(f.Px) || !positiveDecimal(f.Sz) {
			badPxSz++
		}
		if f.Time < dayStart || f.Time >= dayEnd {
			badTime++
		}
	}

	var problems []string
	if badAddr > 0 {
		problems = append(problems, fmt.Sprintf("%d rows with malformed user addresses", badAddr))
	}
	if badSide > 0 {
		problems = append(problems, fmt.Sprintf("%d rows with unknown side", badSide))
	}
	if badPxSz > 0 {
		problems = append(problems, fmt.Sprintf("%d rows with non-positive px or sz", badPxSz))
	}
	if badTime > 0 {
		problems = append(problems, fmt.Sprintf("%d rows with timestamps outside the partition date", badTime))
	}
	return problems
}

// fillMultiplier returns how many fills one raw record expands to and
// whether that factor is exact. The counterparty-pair format always yields
// two fills per trade; the block-grouped format carries a variable number
// of events per block, so its counts can only be sanity-checked.
func fillMultiplier(source string) (mult int64, exact bool) {
	switch source {
	case domain.SourceNodeTrades:
		return 2, true
	case domain.SourceNodeFillsByBlock:
		return 1, false
	default:
		return 1, true
	}
}

func positiveDecimal(s string) bool {
	d, err := decimal.NewFromString(s)
	return err == nil && d.IsPositive()
}

func (v *Validator) logResult(dr *DateReport) {
	if dr.OK() {
		v.logger.Debug("date validated",
			slog.String("date", dr.Date),
			slog.String("source", dr.Source),
			slog.Int64("rows", dr.Rows),
		)
		return
	}
	v.logger.Warn("date failed validation",
		slog.String("date", dr.Date),
		slog.String("source", dr.Source),
		slog.Any("problems", dr.Problems),
	)
}
