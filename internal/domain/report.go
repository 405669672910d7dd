package domain

import (
	"time"
)

// DateStatus is the terminal state of one candidate date in a normalization
// run.
type DateStatus string

const (
	StatusDone             DateStatus = "done"
	StatusSkippedUncovered DateStatus = "skipped_uncovered"
	StatusSkippedNoFiles   DateStatus = "skipped_no_files"
	StatusSkippedExisting  DateStatus = "skipped_existing"
	StatusFailed           DateStatus = "failed"
)

// DateResult reports the outcome of processing a single date.
type DateResult struct {
	Date      time.Time
	Status    DateStatus
	Source    string // authoritative source name, empty when uncovered
	Files     int
	Records   int64
	Malformed int64
	Err       error
}

// RunReport accumulates per-date results for one normalization run. It is
// not safe for concurrent use; the orchestrator guards it with a mutex.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []DateResult
}

// Counts returns the number of dates per terminal status.
func (r *RunReport) Counts() map[DateStatus]int {
	counts := make(map[DateStatus]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// TotalRecords returns the total number of canonical records written across
// all successfully processed dates.
func (r *RunReport) TotalRecords() int64 {
	var total int64
	for _, res := range r.Results {
		if res.Status == StatusDone {
			total += res.Records
		}
	}
	return total
}

// TotalMalformed returns the number of raw records dropped as malformed.
func (r *RunReport) TotalMalformed() int64 {
	var total int64
	for _, res := range r.Results {
		total += res.Malformed
	}
	return total
}

// SourceStats aggregates processed dates, files, and records per source.
func (r *RunReport) SourceStats() map[string]SourceStat {
	stats := make(map[string]SourceStat)
	for _, res := range r.Results {
		if res.Status != StatusDone {
			continue
		}
		s := stats[res.Source]
		s.Dates++
		s.Files += res.Files
		s.Records += res.Records
		stats[res.Source] = s
	}
	return stats
}

// SourceStat is the per-source slice of a run report.
type SourceStat struct {
	Dates   int
	Files   int
	Records int64
}

// Failed returns the results of dates that ended in StatusFailed.
func (r *RunReport) Failed() []DateResult {
	var failed []DateResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
