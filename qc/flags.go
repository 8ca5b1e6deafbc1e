package qc

// Flag is a QARTOD quality flag
type Flag int32

const (
	Pass         Flag = 1
	NotEvaluated Flag = 2
	Suspect      Flag = 3
	Fail         Flag = 4
	Missing      Flag = 9
)

const FlagValues = "1, 2, 3, 4, 9"
const FlagMeanings = "PASS NOT_EVALUATED SUSPECT FAIL MISSING"

func (f Flag) String() string {
	switch f {
	case Pass:
		return "PASS"
	case NotEvaluated:
		return "NOT_EVALUATED"
	case Suspect:
		return "SUSPECT"
	case Fail:
		return "FAIL"
	case Missing:
		return "MISSING"
	}
	return "UNKNOWN"
}

// Test identifies one of the QARTOD tests.
// The numeric order is the digit order of the tests-run encoding.
type Test int

const (
	GrossRange Test = iota
	Spike
	FlatLine
	RateOfChange
)

var AllTests = []Test{GrossRange, Spike, FlatLine, RateOfChange}

func (t Test) String() string {
	switch t {
	case GrossRange:
		return "gross_range_test"
	case Spike:
		return "spike_test"
	case FlatLine:
		return "flat_line_test"
	case RateOfChange:
		return "rate_of_change_test"
	}
	return "unknown_test"
}

// Aggregate rolls up the flags of all tests run on a sample.
// The worst flag wins: FAIL, then SUSPECT, then MISSING unless some test passed,
// then PASS. A sample where nothing was evaluated stays NOT_EVALUATED.
func Aggregate(flags ...Flag) Flag {
	var fail, suspect, missing, pass bool
	for _, f := range flags {
		switch f {
		case Fail:
			fail = true
		case Suspect:
			suspect = true
		case Missing:
			missing = true
		case Pass:
			pass = true
		}
	}

	switch {
	case fail:
		return Fail
	case suspect:
		return Suspect
	case missing && !pass:
		return Missing
	case pass:
		return Pass
	}
	return NotEvaluated
}

// TestsRun concatenates flags into a base 10 integer, first flag most significant
func TestsRun(flags ...Flag) int32 {
	var out int32
	for _, f := range flags {
		out = out*10 + int32(f)%10
	}
	return out
}
