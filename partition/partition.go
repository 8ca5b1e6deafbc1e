package partition

import (
	"sort"
	"time"

	"buoy_importer/merge"
	"buoy_importer/qc"
)

// QCColumns are the five companion flag columns of one variable, plus the
// tests-run digits
type QCColumns struct {
	Aggregate    []qc.Flag
	GrossRange   []qc.Flag
	RateOfChange []qc.Flag
	Spike        []qc.Flag
	FlatLine     []qc.Flag
	TestsRun     []int32
}

// FromResult copies an evaluation into companion columns.
// Tests that were not run are NOT_EVALUATED.
func FromResult(r *qc.Result) *QCColumns {
	n := len(r.Aggregate)
	out := newQCColumns(n)
	copy(out.Aggregate, r.Aggregate)
	copy(out.TestsRun, r.TestsRun)
	for i := range n {
		out.GrossRange[i] = r.Flag(qc.GrossRange, i)
		out.RateOfChange[i] = r.Flag(qc.RateOfChange, i)
		out.Spike[i] = r.Flag(qc.Spike, i)
		out.FlatLine[i] = r.Flag(qc.FlatLine, i)
	}
	return out
}

func newQCColumns(n int) *QCColumns {
	return &QCColumns{
		Aggregate:    make([]qc.Flag, n),
		GrossRange:   make([]qc.Flag, n),
		RateOfChange: make([]qc.Flag, n),
		Spike:        make([]qc.Flag, n),
		FlatLine:     make([]qc.Flag, n),
		TestsRun:     make([]int32, n),
	}
}

// NotEvaluated returns companion columns for a variable that could not be QC'd
func NotEvaluated(n int) *QCColumns {
	out := newQCColumns(n)
	for i := range n {
		out.Aggregate[i] = qc.NotEvaluated
		out.GrossRange[i] = qc.NotEvaluated
		out.RateOfChange[i] = qc.NotEvaluated
		out.Spike[i] = qc.NotEvaluated
		out.FlatLine[i] = qc.NotEvaluated
	}
	return out
}

// Slice returns the columns of the rows [from, to)
func (c *QCColumns) Slice(from, to int) *QCColumns {
	return &QCColumns{
		Aggregate:    c.Aggregate[from:to],
		GrossRange:   c.GrossRange[from:to],
		RateOfChange: c.RateOfChange[from:to],
		Spike:        c.Spike[from:to],
		FlatLine:     c.FlatLine[from:to],
		TestsRun:     c.TestsRun[from:to],
	}
}

// Partition is the content of one partition file
type Partition struct {
	Key   Key
	Table *merge.Table
	// Companion columns by variable name, aligned with Table.Rows
	QC map[string]*QCColumns
	// Global descriptive attributes
	Attributes map[string]string
}

func (p *Partition) Len() int {
	return p.Table.Len()
}

// Split groups a sorted table and its QC columns into monthly partitions.
// Months without samples produce no partition.
func Split(table *merge.Table, columns map[string]*QCColumns, smart bool) []*Partition {
	var out []*Partition
	if table.Empty() {
		return out
	}

	start := 0
	for i := 1; i <= table.Len(); i++ {
		if i < table.Len() && sameMonth(table.Rows[i-1].Time, table.Rows[i].Time) {
			continue
		}

		key := KeyOf(table.LocationID, smart, time.Unix(table.Rows[start].Time, 0))
		sub := merge.NewTable(table.LocationID, table.Variables)
		sub.Rows = table.Rows[start:i]

		p := &Partition{Key: key, Table: sub, QC: make(map[string]*QCColumns, len(columns))}
		for name, c := range columns {
			p.QC[name] = c.Slice(start, i)
		}
		out = append(out, p)
		start = i
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Before(out[j].Key) })
	return out
}

func sameMonth(a, b int64) bool {
	ta, tb := time.Unix(a, 0).UTC(), time.Unix(b, 0).UTC()
	return ta.Year() == tb.Year() && ta.Month() == tb.Month()
}
