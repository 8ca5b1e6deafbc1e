package qc

import (
	"buoy_importer/obs"
)

// Series is a time ordered sequence of samples of one variable
type Series struct {
	Times  []int64
	Values []float64
}

func (s Series) Len() int {
	return len(s.Values)
}

// Degenerate reports whether a non-empty series has no usable value at all
func (s Series) Degenerate() bool {
	if len(s.Values) == 0 {
		return false
	}
	for _, v := range s.Values {
		if !obs.IsNull(v) {
			return false
		}
	}
	return true
}

// Result holds the per-sample flags of one evaluation
type Result struct {
	// Flags of the configured tests only
	Flags      map[Test][]Flag
	Aggregate  []Flag
	TestsRun   []int32
	Degenerate bool
	tests      []Test
}

// Flag returns the flag of a test for sample i.
// Tests that were not configured read as NOT_EVALUATED.
func (r *Result) Flag(t Test, i int) Flag {
	if flags, ok := r.Flags[t]; ok {
		return flags[i]
	}
	return NotEvaluated
}

// Tests returns the configured tests, in tests-run order
func (r *Result) Tests() []Test {
	return r.tests
}

// rollup recomputes the aggregate and tests-run views from the per-test flags
func (r *Result) rollup(n int) {
	r.Aggregate = make([]Flag, n)
	r.TestsRun = make([]int32, n)

	sample := make([]Flag, len(r.tests))
	for i := range n {
		for k, t := range r.tests {
			sample[k] = r.Flags[t][i]
		}
		r.Aggregate[i] = Aggregate(sample...)
		r.TestsRun[i] = TestsRun(sample...)
	}
}

func fill(n int, f Flag) []Flag {
	out := make([]Flag, n)
	for i := range out {
		out[i] = f
	}
	return out
}

// Evaluate runs every test configured in limits against the series
func Evaluate(s Series, limits LimitSet) Result {
	n := s.Len()
	result := Result{Flags: make(map[Test][]Flag), tests: limits.Tests()}

	if len(result.tests) > 0 && s.Degenerate() {
		// no test is numerically meaningful without a single valid sample
		result.Degenerate = true
		for _, t := range result.tests {
			result.Flags[t] = fill(n, Missing)
		}
		result.rollup(n)
		result.Aggregate = fill(n, Fail)
		return result
	}

	if limits.GrossRange != nil {
		result.Flags[GrossRange] = grossRangeTest(s.Values, limits.GrossRange)
	}
	if limits.Spike != nil {
		result.Flags[Spike] = spikeTest(s.Values, limits.Spike)
	}
	if limits.FlatLine != nil {
		result.Flags[FlatLine] = flatLineTest(s.Times, s.Values, limits.FlatLine)
	}
	if limits.RateOfChange != nil {
		result.Flags[RateOfChange] = rateOfChangeTest(s.Times, s.Values, limits.RateOfChange)
	}

	result.rollup(n)
	return result
}

// EvaluateVariable evaluates a series of the given variable, correcting
// angular variables for the 0/360 wrap
func EvaluateVariable(v obs.Variable, s Series, limits LimitSet) Result {
	if v.Class.Angular() {
		return EvaluateDirection(s, limits)
	}
	return Evaluate(s, limits)
}
