package merge

import (
	"slices"
	"sort"

	"buoy_importer/obs"
)

// Row holds every variable measured by one platform at one instant
type Row struct {
	Time       int64
	PlatformID string
	Latitude   float64
	Longitude  float64
	Depth      float64
	// Values by variable name, an absent variable reads as null
	Values map[string]float64
}

func (r *Row) Key() obs.Key {
	return obs.Key{Timestamp: r.Time, PlatformID: r.PlatformID}
}

func (r *Row) Value(variable string) float64 {
	if v, ok := r.Values[variable]; ok {
		return v
	}
	return obs.Null()
}

func (r Row) clone() Row {
	values := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	r.Values = values
	return r
}

// overwrite copies every non-null value of other into the row
func (r *Row) overwrite(other *Row) {
	for k, v := range other.Values {
		if !obs.IsNull(v) {
			r.Values[k] = v
		}
	}
	if !obs.IsNull(other.Latitude) {
		r.Latitude = other.Latitude
	}
	if !obs.IsNull(other.Longitude) {
		r.Longitude = other.Longitude
	}
}

// Table is the time series of one location variant, one row per sample
type Table struct {
	LocationID string
	// Column order of the published variables
	Variables []string
	Rows      []Row
}

func NewTable(locationID string, variables []string) *Table {
	return &Table{LocationID: locationID, Variables: slices.Clone(variables)}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) Empty() bool {
	return t.Len() == 0
}

// First returns the earliest timestamp, the table must be sorted and non-empty
func (t *Table) First() int64 {
	return t.Rows[0].Time
}

// Last returns the latest timestamp, the table must be sorted and non-empty
func (t *Table) Last() int64 {
	return t.Rows[len(t.Rows)-1].Time
}

// Sort orders rows by time, keeping insertion order for equal timestamps
func (t *Table) Sort() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Time < t.Rows[j].Time
	})
}

func (t *Table) Clone() *Table {
	out := NewTable(t.LocationID, t.Variables)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = r.clone()
	}
	return out
}

// AddVariable appends a column if it is not present yet
func (t *Table) AddVariable(name string) {
	if !slices.Contains(t.Variables, name) {
		t.Variables = append(t.Variables, name)
	}
}

func (t *Table) Times() []int64 {
	out := make([]int64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Time
	}
	return out
}

// Column returns the values of one variable, null where the row lacks it
func (t *Table) Column(variable string) []float64 {
	out := make([]float64, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Rows[i].Value(variable)
	}
	return out
}

// Filter returns a table with the rows for which keep returns true
func (t *Table) Filter(keep func(*Row) bool) *Table {
	out := NewTable(t.LocationID, t.Variables)
	for i := range t.Rows {
		if keep(&t.Rows[i]) {
			out.Rows = append(out.Rows, t.Rows[i])
		}
	}
	return out
}

// FromObservations pivots row-oriented observations into a table.
// Observations sharing an identity key end up in the same row, later
// non-null values overwriting earlier ones.
func FromObservations(locationID string, variables []string, observations []obs.Observation) *Table {
	t := NewTable(locationID, variables)
	index := make(map[obs.Key]int)

	for _, o := range observations {
		t.AddVariable(o.Variable)

		incoming := Row{
			Time:       o.Timestamp,
			PlatformID: o.PlatformID,
			Latitude:   o.Latitude,
			Longitude:  o.Longitude,
			Depth:      o.Depth,
			Values:     map[string]float64{o.Variable: o.Value},
		}

		if i, ok := index[o.Key()]; ok {
			t.Rows[i].overwrite(&incoming)
			continue
		}
		index[o.Key()] = len(t.Rows)
		t.Rows = append(t.Rows, incoming)
	}
	return t
}
