package merge

import (
	"fmt"
	"log/slog"
	"time"

	"buoy_importer/obs"
)

// Report summarises what a merge did to the series
type Report struct {
	Existing int
	Incoming int
	// Incoming rows that updated an existing row
	Matched int
	// Incoming rows appended as new samples
	Appended int
	// Incoming rows older than the loaded partition, not merged
	Dropped int
	Dedup   DedupReport
}

// DedupReport holds the counts of a duplicate timestamp resolution
type DedupReport struct {
	Before     int
	Duplicates int
	After      int
	// Set when the resolution removed a different number of rows than
	// duplicates found, or lost a timestamp altogether
	Anomaly bool
}

// PullSince returns the earliest time that has to be fetched again to re-merge
// the loaded partition spanning [first, last].
// The window reaches back lookback before the start of the day holding last,
// but never before first shifted by shift. Shift is only applied when the
// loaded partition is not the latest one on disk.
func PullSince(first, last time.Time, latest bool, lookback, shift time.Duration) time.Time {
	if latest {
		shift = 0
	}

	last = last.UTC()
	dayStart := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)

	since := dayStart.Add(-lookback)
	if floor := first.UTC().Add(-shift); floor.After(since) {
		since = floor
	}
	return since
}

// Merge reconciles freshly fetched rows with the loaded partition.
// Neither argument is modified. A nil or empty existing table makes the
// incoming rows the whole series.
func Merge(existing, incoming *Table) (*Table, Report) {
	var report Report
	report.Incoming = incoming.Len()

	if existing.Empty() {
		if incoming.Empty() {
			return existing, report
		}
		merged := incoming.Clone()
		merged.Sort()
		report.Appended = merged.Len()
		report.Dedup = Dedup(merged)
		return merged, report
	}

	merged := existing.Clone()
	merged.Sort()
	report.Existing = merged.Len()
	if incoming.Empty() {
		return merged, report
	}

	for _, v := range incoming.Variables {
		merged.AddVariable(v)
	}

	index := make(map[obs.Key]int, merged.Len())
	for i := range merged.Rows {
		index[merged.Rows[i].Key()] = i
	}

	// older rows fall outside the partition window and would otherwise
	// be written over data that was not reloaded
	start := merged.First()
	for _, r := range incoming.Rows {
		if r.Time < start {
			report.Dropped++
			continue
		}
		if i, ok := index[r.Key()]; ok {
			merged.Rows[i].overwrite(&r)
			report.Matched++
			continue
		}
		index[r.Key()] = len(merged.Rows)
		merged.Rows = append(merged.Rows, r.clone())
		report.Appended++
	}

	merged.Sort()
	report.Dedup = Dedup(merged)
	return merged, report
}

// Dedup resolves samples sharing a timestamp, keeping the last occurrence.
// The table must be sorted with stable ordering so the last occurrence is
// the most recently written one.
func Dedup(t *Table) DedupReport {
	report := DedupReport{Before: t.Len()}
	if t.Len() < 2 {
		report.After = t.Len()
		return report
	}

	before := t.Rows
	for i := 1; i < len(before); i++ {
		if before[i].Time == before[i-1].Time {
			report.Duplicates++
		}
	}

	if report.Duplicates > 0 {
		slog.Info(fmt.Sprintf("%v: %v duplicate timestamps found to merge", t.LocationID, report.Duplicates))
		t.Rows = keepLast(before)
	}
	report.After = t.Len()

	if !resolved(before, t.Rows) {
		report.Anomaly = true
		slog.Error(fmt.Sprintf(
			"%v: duplicate resolution lost data, %v rows before, %v duplicates, %v rows after",
			t.LocationID, report.Before, report.Duplicates, report.After,
		))
	}
	return report
}

// keepLast drops every row followed by one with the same timestamp
func keepLast(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for i, r := range rows {
		if i+1 < len(rows) && rows[i+1].Time == r.Time {
			continue
		}
		out = append(out, r)
	}
	return out
}

// resolved checks a duplicate resolution against the rows it started from:
// every timestamp is kept exactly once, carrying its last written row.
func resolved(before, after []Row) bool {
	last := make(map[int64]*Row, len(before))
	for i := range before {
		last[before[i].Time] = &before[i]
	}
	if len(after) != len(last) {
		return false
	}

	kept := make(map[int64]bool, len(after))
	for i := range after {
		r := &after[i]
		want, ok := last[r.Time]
		if !ok || kept[r.Time] || !sameRow(r, want) {
			return false
		}
		kept[r.Time] = true
	}
	return true
}

func sameRow(a, b *Row) bool {
	if a.PlatformID != b.PlatformID || len(a.Values) != len(b.Values) {
		return false
	}
	for k, v := range a.Values {
		w, ok := b.Values[k]
		if !ok || (v != w && !(obs.IsNull(v) && obs.IsNull(w))) {
			return false
		}
	}
	return true
}
