package qc

import (
	"errors"
	"fmt"
	"time"

	"buoy_importer/obs"
)

var ErrInvalidLimits = errors.New("invalid QC limits")

type GrossRangeLimits struct {
	SuspectMin float64
	SuspectMax float64
	FailMin    float64
	FailMax    float64
}

type SpikeLimits struct {
	Suspect float64
	Fail    float64
}

type RateOfChangeLimits struct {
	// Maximum allowed absolute change per second
	Threshold float64
}

type FlatLineLimits struct {
	// Variation below which consecutive values count as flat
	Tolerance float64
	Suspect   time.Duration
	Fail      time.Duration
}

// LimitSet holds the thresholds of every test configured for a variable.
// A nil test is not run.
type LimitSet struct {
	GrossRange   *GrossRangeLimits
	Spike        *SpikeLimits
	RateOfChange *RateOfChangeLimits
	FlatLine     *FlatLineLimits
}

// Empty reports whether no test is configured, meaning the variable cannot be QC'd
func (l LimitSet) Empty() bool {
	return l.GrossRange == nil && l.Spike == nil && l.RateOfChange == nil && l.FlatLine == nil
}

// Tests lists the configured tests in tests-run order
func (l LimitSet) Tests() []Test {
	var out []Test
	if l.GrossRange != nil {
		out = append(out, GrossRange)
	}
	if l.Spike != nil {
		out = append(out, Spike)
	}
	if l.FlatLine != nil {
		out = append(out, FlatLine)
	}
	if l.RateOfChange != nil {
		out = append(out, RateOfChange)
	}
	return out
}

func (l LimitSet) Validate() error {
	if g := l.GrossRange; g != nil {
		if g.SuspectMin > g.SuspectMax || g.FailMin > g.FailMax {
			return fmt.Errorf("%w: gross range span is inverted", ErrInvalidLimits)
		}
		if g.SuspectMin < g.FailMin || g.SuspectMax > g.FailMax {
			return fmt.Errorf("%w: gross range suspect span [%v, %v] not inside fail span [%v, %v]",
				ErrInvalidLimits, g.SuspectMin, g.SuspectMax, g.FailMin, g.FailMax)
		}
	}
	if s := l.Spike; s != nil {
		if s.Suspect < 0 || s.Fail < s.Suspect {
			return fmt.Errorf("%w: spike thresholds suspect=%v fail=%v", ErrInvalidLimits, s.Suspect, s.Fail)
		}
	}
	if r := l.RateOfChange; r != nil && r.Threshold <= 0 {
		return fmt.Errorf("%w: rate of change threshold %v", ErrInvalidLimits, r.Threshold)
	}
	if f := l.FlatLine; f != nil {
		if f.Tolerance < 0 || f.Suspect <= 0 || f.Fail < f.Suspect {
			return fmt.Errorf("%w: flat line tolerance=%v suspect=%v fail=%v", ErrInvalidLimits, f.Tolerance, f.Suspect, f.Fail)
		}
	}
	return nil
}

// Override replaces whole tests of the receiver with the tests present in other.
// Thresholds are never merged field by field.
func (l LimitSet) Override(other LimitSet) LimitSet {
	if other.GrossRange != nil {
		l.GrossRange = other.GrossRange
	}
	if other.Spike != nil {
		l.Spike = other.Spike
	}
	if other.RateOfChange != nil {
		l.RateOfChange = other.RateOfChange
	}
	if other.FlatLine != nil {
		l.FlatLine = other.FlatLine
	}
	return l
}

// Default returns the class defaults for a variable.
// Variables of unknown class get an empty set.
func Default(v obs.Variable) LimitSet {
	switch v.Class {
	case obs.ClassPeriod:
		flat := &FlatLineLimits{Tolerance: 0.05, Suspect: 6 * time.Hour, Fail: 12 * time.Hour}
		if v.Peak {
			flat = &FlatLineLimits{Tolerance: 0.05, Suspect: 36 * time.Hour, Fail: 72 * 30 * time.Minute}
		}
		return LimitSet{
			GrossRange:   &GrossRangeLimits{0, 25, -1, 50},
			Spike:        &SpikeLimits{5, 10},
			RateOfChange: &RateOfChangeLimits{5.0 / 900},
			FlatLine:     flat,
		}
	case obs.ClassFrequency:
		flat := &FlatLineLimits{Tolerance: 2.4 / 256, Suspect: 6 * time.Hour, Fail: 12 * time.Hour}
		if v.Peak {
			flat = &FlatLineLimits{Tolerance: 2.4 / 256, Suspect: 36 * time.Hour, Fail: 72 * time.Hour}
		}
		return LimitSet{
			GrossRange:   &GrossRangeLimits{0.05, 0.25, 0.03, 1.0},
			Spike:        &SpikeLimits{0.05, 0.1},
			RateOfChange: &RateOfChangeLimits{0.05 / 1800},
			FlatLine:     flat,
		}
	case obs.ClassDirection:
		return LimitSet{
			GrossRange:   &GrossRangeLimits{0, 360, -180, 540},
			Spike:        &SpikeLimits{90, 180},
			RateOfChange: &RateOfChangeLimits{180.0 / 900},
			FlatLine:     &FlatLineLimits{Tolerance: 0.01, Suspect: 2 * time.Hour, Fail: 6 * time.Hour},
		}
	case obs.ClassDirectionalSpread:
		return LimitSet{
			GrossRange:   &GrossRangeLimits{0, 90, -90, 180},
			Spike:        &SpikeLimits{10, 20},
			RateOfChange: &RateOfChangeLimits{180.0 / 900},
			FlatLine:     &FlatLineLimits{Tolerance: 0.1, Suspect: 2 * time.Hour, Fail: 6 * time.Hour},
		}
	case obs.ClassWaveHeight:
		return LimitSet{
			GrossRange:   &GrossRangeLimits{0, 15, -0.1, 25},
			Spike:        &SpikeLimits{3, 5},
			RateOfChange: &RateOfChangeLimits{3.0 / 900},
			FlatLine:     &FlatLineLimits{Tolerance: 0.01, Suspect: 2 * time.Hour, Fail: 6 * time.Hour},
		}
	case obs.ClassTemperature:
		return LimitSet{
			GrossRange:   &GrossRangeLimits{0, 30, -5, 50},
			Spike:        &SpikeLimits{1, 2},
			RateOfChange: &RateOfChangeLimits{2.0 / 900},
			FlatLine:     &FlatLineLimits{Tolerance: 0.01, Suspect: 3 * time.Hour, Fail: 6 * time.Hour},
		}
	}
	return LimitSet{}
}

// Resolve builds the limit set used for a variable at a location: class defaults
// overlaid with the location overrides, if any. The result is validated.
func Resolve(v obs.Variable, overrides Overrides) (LimitSet, error) {
	limits := Default(v)
	if limits.Empty() {
		return limits, nil
	}
	if o, ok := overrides[v.Name]; ok {
		limits = limits.Override(o)
	}
	if err := limits.Validate(); err != nil {
		return LimitSet{}, fmt.Errorf("%s: %w", v.Name, err)
	}
	return limits, nil
}

// Overrides are location specific limit sets keyed by variable name
type Overrides map[string]LimitSet
