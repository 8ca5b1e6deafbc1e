package obs

import "strings"

// Class groups variables that share QC defaults
type Class int

const (
	ClassUnknown Class = iota
	ClassPeriod
	ClassFrequency
	ClassDirection
	ClassDirectionalSpread
	ClassWaveHeight
	ClassTemperature
)

func (c Class) String() string {
	switch c {
	case ClassPeriod:
		return "period"
	case ClassFrequency:
		return "frequency"
	case ClassDirection:
		return "direction"
	case ClassDirectionalSpread:
		return "directional_spread"
	case ClassWaveHeight:
		return "wave_significant_height"
	case ClassTemperature:
		return "temperature"
	}
	return "unknown"
}

// Angular variables are corrected for the 0/360 wrap before the
// neighbour based QC tests run
func (c Class) Angular() bool {
	return c == ClassDirection
}

// ClassOf classifies a standard variable name.
// It is only meant to be called at the ingestion boundary, everything
// downstream reads the Class tag stored on the Variable or Observation.
func ClassOf(name string) Class {
	switch {
	case strings.Contains(name, "period"):
		return ClassPeriod
	case strings.Contains(name, "frequency"):
		return ClassFrequency
	case strings.Contains(name, "directional_spread"):
		return ClassDirectionalSpread
	case strings.Contains(name, "direction"):
		return ClassDirection
	case strings.Contains(name, "significant_height"):
		return ClassWaveHeight
	case strings.Contains(name, "temperature"), strings.Contains(name, "temp"):
		return ClassTemperature
	}
	return ClassUnknown
}

// Variable describes a measured quantity as published in the partitions
type Variable struct {
	Name     string // CF standard name, used as column name
	APIName  string // var_id used by the location data API
	Units    string
	LongName string
	Class    Class
	// Peak (variance spectral density maximum) variables get wider flat line windows
	Peak bool
}

func newVariable(name, apiName, units, longName string) Variable {
	return Variable{
		Name:     name,
		APIName:  apiName,
		Units:    units,
		LongName: longName,
		Class:    ClassOf(name),
		Peak:     strings.Contains(name, "variance_spectral_density_maximum"),
	}
}

var (
	WaveHeightSig     = newVariable("sea_surface_wave_significant_height", "WaveHeightSig", "m", "Significant Wave Height")
	WavePeriodMean    = newVariable("sea_surface_wave_mean_period", "WavePeriodMean", "s", "Mean Wave Period")
	WavePeriodPeak    = newVariable("sea_surface_wave_period_at_variance_spectral_density_maximum", "WavePeriodPeak", "s", "Peak Wave Period")
	WaveDirMean       = newVariable("sea_surface_wave_from_direction", "WaveDirMean", "degree", "Mean Wave Direction")
	WaveDirPeak       = newVariable("sea_surface_wave_from_direction_at_variance_spectral_density_maximum", "WaveDirPeak", "degree", "Peak Wave Direction")
	WaveDirMeanSpread = newVariable("sea_surface_wave_directional_spread", "WaveDirMeanSpread", "degree", "Mean Wave Directional Spread")
	WaveDirPeakSpread = newVariable("sea_surface_wave_directional_spread_at_variance_spectral_density_maximum", "WaveDirPeakSpread", "degree", "Peak Wave Directional Spread")
	SeaSurfaceTemp    = newVariable("sea_surface_temperature", "WaterTemp", "degrees_C", "Sea Surface Temperature")
	SeaWaterTemp      = newVariable("sea_water_temperature", "WaterTemp", "degrees_C", "Sea Water Temperature")
)

// Variables every surface partition carries, in column order
var SurfaceVariables = []Variable{
	WaveHeightSig,
	WavePeriodMean,
	WavePeriodPeak,
	WaveDirMean,
	WaveDirPeak,
	WaveDirMeanSpread,
	WaveDirPeakSpread,
	SeaSurfaceTemp,
}

// Variables carried by smart mooring partitions
var SubsurfaceVariables = []Variable{SeaWaterTemp}

// API variables that are known but not published
var droppedAPIVariables = []string{"SeaSurfaceCondition", "WindSpeed", "WindDirection", "BarometricPressure"}

// FromAPI maps an API var_id to the published variable.
// Water temperature measured below the surface is published as sea water temperature.
// The boolean is false for dropped or unknown var_ids.
func FromAPI(apiName string, depth float64) (Variable, bool) {
	if apiName == SeaSurfaceTemp.APIName && depth != 0 {
		return SeaWaterTemp, true
	}
	for _, v := range SurfaceVariables {
		if v.APIName == apiName {
			return v, true
		}
	}
	return Variable{}, false
}

// Dropped reports whether an API var_id is intentionally ignored
func Dropped(apiName string) bool {
	for _, name := range droppedAPIVariables {
		if name == apiName {
			return true
		}
	}
	return false
}

// Lookup finds a published variable by standard name.
// Names outside the registry get a Variable with the class derived from the name.
func Lookup(name string) Variable {
	for _, v := range SurfaceVariables {
		if v.Name == name {
			return v
		}
	}
	for _, v := range SubsurfaceVariables {
		if v.Name == name {
			return v
		}
	}
	return newVariable(name, "", "", name)
}
