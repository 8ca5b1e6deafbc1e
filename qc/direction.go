package qc

import (
	"math"

	"buoy_importer/obs"
)

const fullCircle = 360.0

// Unwrap removes the artificial jumps at the 0/360 boundary by adding
// multiples of 360 so consecutive valid samples never differ by more than 180.
// Null samples are left untouched and skipped when looking for the previous value.
func Unwrap(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	offset := 0.0
	prev := math.NaN()
	for i, v := range values {
		if obs.IsNull(v) {
			continue
		}
		if !math.IsNaN(prev) {
			d := v - prev
			// shift into [-180, 180)
			wrapped := math.Mod(d+fullCircle/2, fullCircle)
			if wrapped < 0 {
				wrapped += fullCircle
			}
			wrapped -= fullCircle / 2
			if wrapped == -fullCircle/2 && d > 0 {
				wrapped = fullCircle / 2
			}
			offset += wrapped - d
		}
		prev = v
		out[i] = v + offset
	}
	return out
}

// EvaluateDirection evaluates a compass direction series.
// Gross range flags come from the raw degrees, the neighbour based tests
// from the unwrapped series, and the aggregate is recomputed from the mix.
func EvaluateDirection(s Series, limits LimitSet) Result {
	raw := Evaluate(s, limits)
	if raw.Degenerate {
		return raw
	}

	unwrapped := Evaluate(Series{Times: s.Times, Values: Unwrap(s.Values)}, limits)
	for _, t := range []Test{Spike, RateOfChange, FlatLine} {
		if flags, ok := unwrapped.Flags[t]; ok {
			raw.Flags[t] = flags
		}
	}

	raw.rollup(s.Len())
	return raw
}
