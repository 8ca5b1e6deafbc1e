package obs

import (
	"math"
	"time"
)

// Value used upstream and in stored partitions to mark a missing measurement
const FillValue = -555.0

// Observation is a single measurement of one variable, built once at the ingestion boundary
type Observation struct {
	// Time of observation, Unix epoch seconds
	Timestamp int64
	// Location (deployment site) identifier
	LocationID string
	// Identifier of the physical buoy or sensor
	PlatformID string
	// Standard name of the measured quantity
	Variable string
	// Class tag attached at ingestion, drives QC test selection
	Class Class
	// Measured value, NaN if missing
	Value float64
	// Sensor depth in meters, 0 for surface buoys
	Depth     float64
	Latitude  float64
	Longitude float64
}

// Key is the merge identity of an observation
type Key struct {
	Timestamp  int64
	PlatformID string
}

func (o *Observation) Key() Key {
	return Key{o.Timestamp, o.PlatformID}
}

func (o *Observation) Time() time.Time {
	return time.Unix(o.Timestamp, 0).UTC()
}

// Surface reports whether the observation comes from the surface buoy
// rather than a smart mooring sensor
func (o *Observation) Surface() bool {
	return o.Depth == 0
}

// IsNull reports whether a value should be treated as missing.
// NaN, infinities and the fill value all count as missing.
func IsNull(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v == FillValue
}

// Null returns the in-memory representation of a missing value
func Null() float64 {
	return math.NaN()
}
