// Package domain defines the canonical entities shared across the pipeline:
// the normalized fill schema, the dataset catalog, raw record variants, and
// run reporting types. It has no dependencies on other internal packages.
package domain

import (
	"time"
)

// Side markers as they appear in the exchange data.
const (
	SideAsk = "A"
	SideBid = "B"
)

// Known source format identifiers. These name both the raw record shape and
// the converter that handles it.
const (
	SourceNodeTrades       = "node_trades"
	SourceNodeFills        = "node_fills"
	SourceNodeFillsByBlock = "node_fills_by_block"
)

// DateLayout is the canonical calendar-date format used for partition names
// and all date parameters ("YYYY-MM-DD").
const DateLayout = "2006-01-02"

// RawDateLayout is the compact date format used by the raw hourly directory
// names ("YYYYMMDD").
const RawDateLayout = "20060102"

// NormalizedFill is the unified fill schema every source format converts
// into. Price, size, and PnL-like quantities stay exact decimal strings;
// they are never parsed to floating point on the normalization path. Fields
// a source format does not carry are nil, never a sentinel. DatasetSource is
// always set by the converter that produced the fill.
type NormalizedFill struct {
	// Core fields, present in every format.
	Coin        string
	Px          string
	Sz          string
	Side        string
	Time        int64 // unix milliseconds
	Hash        string
	UserAddress string

	// Order and trade identifiers.
	Oid   *int64
	Tid   *int64
	Cloid *string

	// Position and PnL details.
	StartPosition *string
	Direction     *string
	ClosedPnl     *string
	Crossed       *bool

	// Fees.
	Fee      *string
	FeeToken *string

	// Block metadata, populated only by the block-grouped format.
	BlockNumber *int64
	BlockTime   *string
	Builder     *string
	BuilderFee  *string

	// Provenance.
	DatasetSource string
	LocalTime     *string
}

// DatasetSource is one entry of the static source catalog: a named raw data
// location with an inclusive validity window and a priority rank. A lower
// rank wins when several sources cover the same date.
type DatasetSource struct {
	Name     string
	Path     string
	Start    time.Time
	End      time.Time
	Priority int
}

// Covers reports whether the source's validity window contains d. The window
// is inclusive on both ends; d is compared at day granularity.
func (s DatasetSource) Covers(d time.Time) bool {
	day := d.Truncate(24 * time.Hour)
	return !day.Before(s.Start) && !day.After(s.End)
}

// PartitionDescriptor describes one published daily partition.
type PartitionDescriptor struct {
	Date    time.Time
	Path    string
	Records int64
	Bytes   int64
}
