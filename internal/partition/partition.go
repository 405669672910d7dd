// Package partition owns the canonical date-partitioned columnar store. Each
// date is one parquet file at <root>/date=YYYY-MM-DD/data.parquet with a
// fixed column set matching the normalized fill schema; fields a source did
// not carry are stored as nulls. Writes land in a temporary file and are
// published with an atomic rename, so a partition is either absent or
// complete, never half-written.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/avelinec/hlpipe/internal/domain"
)

// DataFileName is the single data file inside each partition directory.
const DataFileName = "data.parquet"

// Row is the parquet row shape for one normalized fill. Optional columns are
// pointers so absent fields round-trip as nulls.
type Row struct {
	Coin          string  `parquet:"coin"`
	Px            string  `parquet:"px"`
	Sz            string  `parquet:"sz"`
	Side          string  `parquet:"side"`
	Time          int64   `parquet:"time"`
	Hash          string  `parquet:"hash"`
	UserAddress   string  `parquet:"user_address"`
	Oid           *int64  `parquet:"oid,optional"`
	Tid           *int64  `parquet:"tid,optional"`
	StartPosition *string `parquet:"start_position,optional"`
	Direction     *string `parquet:"direction,optional"`
	ClosedPnl     *string `parquet:"closed_pnl,optional"`
	Crossed       *bool   `parquet:"crossed,optional"`
	Fee           *string `parquet:"fee,optional"`
	FeeToken      *string `parquet:"fee_token,optional"`
	Cloid         *string `parquet:"cloid,optional"`
	BlockNumber   *int64  `parquet:"block_number,optional"`
	BlockTime     *string `parquet:"block_time,optional"`
	Builder       *string `parquet:"builder,optional"`
	BuilderFee    *string `parquet:"builder_fee,optional"`
	DatasetSource string  `parquet:"dataset_source"`
	LocalTime     *string `parquet:"local_time,optional"`
}

// RowFromFill maps a canonical fill onto its parquet row.
func RowFromFill(f domain.NormalizedFill) Row {
	return Row{
		Coin:          f.Coin,
		Px:            f.Px,
		Sz:            f.Sz,
		Side:          f.Side,
		Time:          f.Time,
		Hash:          f.Hash,
		UserAddress:   f.UserAddress,
		Oid:           f.Oid,
		Tid:           f.Tid,
		StartPosition: f.StartPosition,
		Direction:     f.Direction,
		ClosedPnl:     f.ClosedPnl,
		Crossed:       f.Crossed,
		Fee:           f.Fee,
		FeeToken:      f.FeeToken,
		Cloid:         f.Cloid,
		BlockNumber:   f.BlockNumber,
		BlockTime:     f.BlockTime,
		Builder:       f.Builder,
		BuilderFee:    f.BuilderFee,
		DatasetSource: f.DatasetSource,
		LocalTime:     f.LocalTime,
	}
}

// Fill maps a parquet row back to the canonical fill.
func (r Row) Fill() domain.NormalizedFill {
	return domain.NormalizedFill{
		Coin:          r.Coin,
		Px:            r.Px,
		Sz:            r.Sz,
		Side:          r.Side,
		Time:          r.Time,
		Hash:          r.Hash,
		UserAddress:   r.UserAddress,
		Oid:           r.Oid,
		Tid:           r.Tid,
		StartPosition: r.StartPosition,
		Direction:     r.Direction,
		ClosedPnl:     r.ClosedPnl,
		Crossed:       r.Crossed,
		Fee:           r.Fee,
		FeeToken:      r.FeeToken,
		Cloid:         r.Cloid,
		BlockNumber:   r.BlockNumber,
		BlockTime:     r.BlockTime,
		Builder:       r.Builder,
		BuilderFee:    r.BuilderFee,
		DatasetSource: r.DatasetSource,
		LocalTime:     r.LocalTime,
	}
}

// Store is a date-partitioned parquet store rooted at a single directory.
// Distinct dates may be written concurrently; a single date must have one
// writer at a time, which the orchestrator guarantees.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root. The directory is created lazily
// on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the partition directory for a date.
func (s *Store) Dir(date time.Time) string {
	return filepath.Join(s.root, "date="+date.Format(domain.DateLayout))
}

// DataFile returns the partition data file path for a date.
func (s *Store) DataFile(date time.Time) string {
	return filepath.Join(s.Dir(date), DataFileName)
}

// Probe reports whether a readable partition exists for the date and, if so,
// its row count taken from the parquet footer. A present but unreadable file
// reports ok=false so the caller reprocesses the date.
func (s *Store) Probe(date time.Time) (ok bool, rows int64) {
	path := s.DataFile(date)
	f, err := os.Open(path)
	if err != nil {
		return false, 0
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return false, 0
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return false, 0
	}
	return true, pf.NumRows()
}

// Write stores all fills for one date and publishes the partition
// atomically. An existing partition is replaced wholesale. The temporary
// file lives under the store root with a dot-prefixed name so readers and
// List never observe it, and the partition directory is not created until
// the data file is complete, so an interrupted write leaves no directory
// for the date.
func (s *Store) Write(date time.Time, fills []domain.NormalizedFill) (domain.PartitionDescriptor, error) {
	var desc domain.PartitionDescriptor

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return desc, fmt.Errorf("partition: mkdir %s: %w", s.root, err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-"+date.Format(domain.DateLayout)+"-*.parquet")
	if err != nil {
		return desc, fmt.Errorf("partition: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	// The temp file is removed on every failure path; only a successful
	// rename consumes it.
	defer os.Remove(tmpPath)

	w := parquet.NewGenericWriter[Row](tmp, parquet.Compression(&parquet.Snappy))

	const chunk = 4096
	buf := make([]Row, 0, chunk)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}
	for _, f := range fills {
		buf = append(buf, RowFromFill(f))
		if len(buf) == chunk {
			if err := flush(); err != nil {
				tmp.Close()
				return desc, fmt.Errorf("partition: write rows: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		tmp.Close()
		return desc, fmt.Errorf("partition: write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return desc, fmt.Errorf("partition: close writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return desc, fmt.Errorf("partition: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return desc, fmt.Errorf("partition: close temp: %w", err)
	}

	st, err := os.Stat(tmpPath)
	if err != nil {
		return desc, fmt.Errorf("partition: stat temp: %w", err)
	}

	dir := s.Dir(date)
	_, statErr := os.Stat(dir)
	existed := statErr == nil
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return desc, fmt.Errorf("partition: mkdir %s: %w", dir, err)
	}

	final := s.DataFile(date)
	if err := os.Rename(tmpPath, final); err != nil {
		if !existed {
			os.Remove(dir)
		}
		return desc, fmt.Errorf("partition: publish %s: %w", final, err)
	}

	return domain.PartitionDescriptor{
		Date:    date,
		Path:    final,
		Records: int64(len(fills)),
		Bytes:   st.Size(),
	}, nil
}

// SweepTemp deletes temp files left behind by interrupted writes and
// returns how many it removed. Callers must ensure no write is in flight.
func (s *Store) SweepTemp() (int, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("partition: read dir %s: %w", s.root, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil {
			return removed, fmt.Errorf("partition: sweep %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Remove deletes the partition for a date, if present.
func (s *Store) Remove(date time.Time) error {
	if err := os.RemoveAll(s.Dir(date)); err != nil {
		return fmt.Errorf("partition: remove %s: %w", s.Dir(date), err)
	}
	return nil
}

// Read returns every fill in the date's partition. One partition holds one
// date's data, so the caller's memory stays bounded to a single date.
func (s *Store) Read(date time.Time) ([]domain.NormalizedFill, error) {
	rows, err := parquet.ReadFile[Row](s.DataFile(date))
	if err != nil {
		return nil, fmt.Errorf("partition: read %s: %w", s.DataFile(date), err)
	}
	fills := make([]domain.NormalizedFill, len(rows))
	for i, r := range rows {
		fills[i] = r.Fill()
	}
	return fills, nil
}

// List returns the sorted dates of all published partitions. Temp files and
// foreign directories are ignored.
func (s *Store) List() ([]time.Time, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("partition: read dir %s: %w", s.root, err)
	}

	var dates []time.Time
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "date=") {
			continue
		}
		d, perr := time.Parse(domain.DateLayout, strings.TrimPrefix(e.Name(), "date="))
		if perr != nil {
			continue
		}
		// Only count partitions whose data file was published.
		if _, serr := os.Stat(filepath.Join(s.root, e.Name(), DataFileName)); serr != nil {
			continue
		}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
