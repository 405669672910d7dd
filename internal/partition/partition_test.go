package partition

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinec/hlpipe/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func sampleFills(n int) []domain.NormalizedFill {
	fills := make([]domain.NormalizedFill, 0, n)
	for i := 0; i < n; i++ {
		f := domain.NormalizedFill{
			Coin:          "BTC",
			Px:            "50000.5",
			Sz:            "0.1",
			Side:          domain.SideAsk,
			Time:          1747008000000 + int64(i),
			Hash:          "0xhash",
			UserAddress:   "0xuser",
			DatasetSource: domain.SourceNodeFills,
		}
		if i%2 == 0 {
			f.Oid = ptr(int64(100 + i))
			f.Fee = ptr("0.25")
			f.Crossed = ptr(true)
		}
		fills = append(fills, f)
	}
	return fills
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fills := sampleFills(10)

	desc, err := store.Write(date, fills)
	require.NoError(t, err)
	assert.Equal(t, int64(10), desc.Records)
	assert.Positive(t, desc.Bytes)
	assert.Equal(t, store.DataFile(date), desc.Path)

	got, err := store.Read(date)
	require.NoError(t, err)
	require.Len(t, got, 10)

	assert.Equal(t, "50000.5", got[0].Px)
	assert.Equal(t, domain.SideAsk, got[0].Side)
	require.NotNil(t, got[0].Oid)
	assert.Equal(t, int64(100), *got[0].Oid)
	require.NotNil(t, got[0].Crossed)
	assert.True(t, *got[0].Crossed)

	// Absent optionals come back as nulls, not zero values.
	assert.Nil(t, got[1].Oid)
	assert.Nil(t, got[1].Fee)
	assert.Nil(t, got[1].Crossed)
	assert.Nil(t, got[1].BlockNumber)
}

func TestProbe(t *testing.T) {
	store := NewStore(t.TempDir())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ok, _ := store.Probe(date)
	assert.False(t, ok, "absent partition must probe false")

	_, err := store.Write(date, sampleFills(7))
	require.NoError(t, err)

	ok, rows := store.Probe(date)
	assert.True(t, ok)
	assert.Equal(t, int64(7), rows)

	// A corrupt data file probes false so the date gets reprocessed.
	require.NoError(t, os.WriteFile(store.DataFile(date), []byte("garbage"), 0o644))
	ok, _ = store.Probe(date)
	assert.False(t, ok)
}

func TestWrite_ReplacesExistingPartition(t *testing.T) {
	store := NewStore(t.TempDir())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Write(date, sampleFills(5))
	require.NoError(t, err)
	_, err = store.Write(date, sampleFills(3))
	require.NoError(t, err)

	got, err := store.Read(date)
	require.NoError(t, err)
	assert.Len(t, got, 3, "rebuild replaces, never merges")
}

func TestCrashBeforePublishLeavesNoPartition(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// A write killed mid-flight leaves a stray temp file in the root. The
	// partition directory is only created at publish time, so none exists.
	tmp, err := os.CreateTemp(root, ".tmp-2025-06-01-*.parquet")
	require.NoError(t, err)
	_, err = tmp.WriteString("partial write")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.IsDir(), "crash state must hold no partition directory, found %s", e.Name())
	}

	ok, _ := store.Probe(date)
	assert.False(t, ok)

	dates, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, dates, "unpublished partition must be invisible")

	// A retry of the same date succeeds cleanly.
	_, err = store.Write(date, sampleFills(4))
	require.NoError(t, err)
	ok, rows := store.Probe(date)
	assert.True(t, ok)
	assert.Equal(t, int64(4), rows)
}

func TestWrite_FailureLeavesNoDirectoryOrTemp(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// A regular file squatting on the partition directory path makes the
	// publish step fail after the temp file was fully written.
	dirPath := store.Dir(date)
	require.NoError(t, os.WriteFile(dirPath, []byte("squatter"), 0o644))

	_, err := store.Write(date, sampleFills(3))
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the squatting file may remain")
	assert.Equal(t, filepath.Base(dirPath), entries[0].Name())
}

func TestSweepTemp(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Write(date, sampleFills(2))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		tmp, err := os.CreateTemp(root, ".tmp-2025-06-02-*.parquet")
		require.NoError(t, err)
		require.NoError(t, tmp.Close())
	}

	swept, err := store.SweepTemp()
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	// Published partitions are untouched and no temps remain.
	ok, rows := store.Probe(date)
	assert.True(t, ok)
	assert.Equal(t, int64(2), rows)

	swept, err = store.SweepTemp()
	require.NoError(t, err)
	assert.Zero(t, swept)

	// A store whose root was never created sweeps nothing.
	swept, err = NewStore(filepath.Join(root, "missing")).SweepTemp()
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestList_SortedAndFiltered(t *testing.T) {
	store := NewStore(t.TempDir())

	d1 := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []time.Time{d1, d2} {
		_, err := store.Write(d, sampleFills(1))
		require.NoError(t, err)
	}
	// An empty partition directory without a data file is not listed.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "date=2025-06-02"), 0o755))
	// Foreign directories are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "scratch"), 0o755))

	dates, err := store.List()
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, d2, dates[0])
	assert.Equal(t, d1, dates[1])
}

func TestWrite_EmptyDate(t *testing.T) {
	store := NewStore(t.TempDir())
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	desc, err := store.Write(date, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), desc.Records)

	ok, rows := store.Probe(date)
	assert.True(t, ok)
	assert.Equal(t, int64(0), rows)
}
