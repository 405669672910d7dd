package rawio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/avelinec/hlpipe/internal/domain"
)

// FilesForDate returns the sorted hourly files for one source and date, or
// an empty slice when the date directory does not exist.
func FilesForDate(rawDir string, src domain.DatasetSource, date time.Time) ([]string, error) {
	dir := filepath.Join(rawDir, filepath.FromSlash(src.Path), date.Format(domain.RawDateLayout))

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rawio: read dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lz4") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// AllDates returns the sorted union of all dates for which any source has a
// raw date directory on disk. Directory names that are not valid YYYYMMDD
// dates are ignored.
func AllDates(rawDir string, sources []domain.DatasetSource) ([]time.Time, error) {
	seen := make(map[string]time.Time)

	for _, src := range sources {
		base := filepath.Join(rawDir, filepath.FromSlash(src.Path))
		entries, err := os.ReadDir(base)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rawio: read dir %s: %w", base, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			d, perr := time.Parse(domain.RawDateLayout, e.Name())
			if perr != nil {
				continue
			}
			seen[e.Name()] = d
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
