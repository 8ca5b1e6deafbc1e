package qc

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"
)

// LimitsFile is the stored per-location QC limits document.
// Limits are flat keys of the form "{variable}_{test}_{field}".
type LimitsFile struct {
	LocationID        string             `json:"location_id"`
	CreationDate      string             `json:"creation_date"`
	DefaultLimitsUsed bool               `json:"default_limits_used"`
	Limits            map[string]float64 `json:"qartod_limits"`
}

// fields each test must provide, all or none
var testFields = map[Test][]string{
	GrossRange:   {"suspect_min", "suspect_max", "fail_min", "fail_max"},
	Spike:        {"suspect", "fail"},
	RateOfChange: {"threshold"},
	FlatLine:     {"tolerance", "suspect", "fail"},
}

func ReadLimitsFile(path string) (*LimitsFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file LimitsFile
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("could not parse limits file '%s': %w", path, err)
	}
	return &file, nil
}

func WriteLimitsFile(path string, file *LimitsFile) error {
	b, err := json.MarshalIndent(file, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// splitKey finds the variable and field of a flat limits key
func splitKey(key string) (variable string, test Test, field string, ok bool) {
	for _, t := range AllTests {
		sep := "_" + t.String() + "_"
		idx := strings.LastIndex(key, sep)
		if idx <= 0 {
			continue
		}
		return key[:idx], t, key[idx+len(sep):], true
	}
	return "", 0, "", false
}

// Overrides converts the flat keys into typed limit sets.
// A test with only part of its fields present is rejected.
func (f *LimitsFile) Overrides() (Overrides, error) {
	type entry struct {
		variable string
		test     Test
	}
	collected := make(map[entry]map[string]float64)

	for key, value := range f.Limits {
		variable, test, field, ok := splitKey(key)
		if !ok {
			return nil, fmt.Errorf("%w: unrecognised key '%s'", ErrInvalidLimits, key)
		}
		if !slices.Contains(testFields[test], field) {
			return nil, fmt.Errorf("%w: unknown field '%s' for %s", ErrInvalidLimits, field, test)
		}

		e := entry{variable, test}
		if collected[e] == nil {
			collected[e] = make(map[string]float64)
		}
		collected[e][field] = value
	}

	out := make(Overrides)
	for e, fields := range collected {
		if len(fields) != len(testFields[e.test]) {
			return nil, fmt.Errorf("%w: %s %s is missing fields", ErrInvalidLimits, e.variable, e.test)
		}

		limits := out[e.variable]
		switch e.test {
		case GrossRange:
			limits.GrossRange = &GrossRangeLimits{
				SuspectMin: fields["suspect_min"],
				SuspectMax: fields["suspect_max"],
				FailMin:    fields["fail_min"],
				FailMax:    fields["fail_max"],
			}
		case Spike:
			limits.Spike = &SpikeLimits{Suspect: fields["suspect"], Fail: fields["fail"]}
		case RateOfChange:
			limits.RateOfChange = &RateOfChangeLimits{Threshold: fields["threshold"]}
		case FlatLine:
			limits.FlatLine = &FlatLineLimits{
				Tolerance: fields["tolerance"],
				Suspect:   seconds(fields["suspect"]),
				Fail:      seconds(fields["fail"]),
			}
		}
		out[e.variable] = limits
	}

	for variable, limits := range out {
		if err := limits.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", variable, err)
		}
	}
	return out, nil
}

// LimitKeys lists every key a complete limits file has for the given variables
func LimitKeys(variables []string) []string {
	var out []string
	for _, v := range variables {
		for t, fields := range testFields {
			for _, field := range fields {
				out = append(out, fmt.Sprintf("%s_%s_%s", v, t, field))
			}
		}
	}
	sort.Strings(out)
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
