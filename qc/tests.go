package qc

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"buoy_importer/obs"
)

// newFlags returns a flag slice with null samples marked MISSING and the rest set to fill
func newFlags(values []float64, fill Flag) []Flag {
	out := make([]Flag, len(values))
	for i, v := range values {
		if obs.IsNull(v) {
			out[i] = Missing
		} else {
			out[i] = fill
		}
	}
	return out
}

// validIndices returns the positions of the non-null samples.
// The neighbour based tests only ever look at this subsequence.
func validIndices(values []float64) []int {
	out := make([]int, 0, len(values))
	for i, v := range values {
		if !obs.IsNull(v) {
			out = append(out, i)
		}
	}
	return out
}

func grossRangeTest(values []float64, limits *GrossRangeLimits) []Flag {
	flags := newFlags(values, Pass)
	for i, v := range values {
		if flags[i] == Missing {
			continue
		}
		switch {
		case v < limits.FailMin || v > limits.FailMax:
			flags[i] = Fail
		case v < limits.SuspectMin || v > limits.SuspectMax:
			flags[i] = Suspect
		}
	}
	return flags
}

func spikeTest(values []float64, limits *SpikeLimits) []Flag {
	flags := newFlags(values, NotEvaluated)
	valid := validIndices(values)

	for k := 1; k < len(valid)-1; k++ {
		prev, cur, next := values[valid[k-1]], values[valid[k]], values[valid[k+1]]
		deviation := math.Abs(cur - (prev+next)/2)

		switch {
		case deviation > limits.Fail:
			flags[valid[k]] = Fail
		case deviation > limits.Suspect:
			flags[valid[k]] = Suspect
		default:
			flags[valid[k]] = Pass
		}
	}
	return flags
}

func rateOfChangeTest(times []int64, values []float64, limits *RateOfChangeLimits) []Flag {
	flags := newFlags(values, NotEvaluated)
	valid := validIndices(values)

	for k := 1; k < len(valid); k++ {
		i, j := valid[k-1], valid[k]
		dt := float64(times[j] - times[i])
		if dt <= 0 {
			continue
		}

		if math.Abs(values[j]-values[i])/dt > limits.Threshold {
			flags[j] = Suspect
		} else {
			flags[j] = Pass
		}
	}
	return flags
}

// minimum number of samples in a window before it can be called flat
const flatLineMinSamples = 3

func flatLineTest(times []int64, values []float64, limits *FlatLineLimits) []Flag {
	flags := newFlags(values, NotEvaluated)
	valid := validIndices(values)
	if len(valid) == 0 {
		return flags
	}

	suspectSpan := int64(limits.Suspect.Seconds())
	failSpan := int64(limits.Fail.Seconds())
	first := times[valid[0]]

	// isFlat checks the trailing window [t-span, t] ending at valid[k]
	isFlat := func(k int, span int64) (flat bool, enough bool) {
		t := times[valid[k]]
		window := make([]float64, 0, k+1)
		for m := k; m >= 0 && times[valid[m]] >= t-span; m-- {
			window = append(window, values[valid[m]])
		}
		if len(window) < flatLineMinSamples {
			return false, false
		}
		return floats.Max(window)-floats.Min(window) < limits.Tolerance, true
	}

	for k, i := range valid {
		t := times[i]
		if t-first < suspectSpan {
			continue
		}

		if t-first >= failSpan {
			if flat, _ := isFlat(k, failSpan); flat {
				flags[i] = Fail
				continue
			}
		}

		flat, enough := isFlat(k, suspectSpan)
		switch {
		case !enough:
			flags[i] = NotEvaluated
		case flat:
			flags[i] = Suspect
		default:
			flags[i] = Pass
		}
	}
	return flags
}
