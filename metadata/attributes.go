package metadata

import (
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"buoy_importer/merge"
	"buoy_importer/obs"
	"buoy_importer/qc"
)

const (
	programName = "Backyard Buoys"
	programURL  = "https://backyardbuoys.org/"
	funderURL   = "https://new.nsf.gov/funding/initiatives/convergence-accelerator/"
)

var staticAttributes = map[string]string{
	"creator_type":                "institution",
	"creator_country":             "United States",
	"publisher_name":              "Seth Travis",
	"publisher_email":             "setht1@uw.edu",
	"publisher_institution":       programName,
	"publisher_url":               programURL,
	"publisher_type":              "institution",
	"publisher_country":           "United States",
	"contributor_role_vocabulary": "https://vocab.nerc.ac.uk/collection/G04/current/",
	"program":                     programName,
	"program_url":                 programURL,
	"project":                     programName,
	"summary":                     "Surface wave and water conditions, as collected as part of the Backyard Buoys program",
	"platform":                    "buoy",
	"platform_vocabulary":         "https://mmisw.org/ont/ioos/platform",
	"platform_description":        "Sofar Spotter Buoy, moored",
	"naming_authority":            "wmo",
	"gts_ingest":                  "true",
	"geospatial_lat_units":        "degrees_North",
	"geospatial_lon_units":        "degrees_East",
	"license":                     "https://creativecommons.org/licenses/by-nc/4.0/deed.en",
	"cdm_data_type":               "TimeSeries",
	"cdm_timeseries_variables":    "location_id, latitude, longitude",
	"subsetVariables":             "platform_id",
	"Conventions":                 "CF-1.10, ACDD-1.3, IOOS-1.2",
	"featureType":                 "TimeSeries",
	"sourceUrl":                   "https://data.backyardbuoys.org/",
	"infoUrl":                     programURL,
	"keywords_vocabulary":         "GCMD Science Keywords",
	"standard_name_vocabulary":    "CF Standard Name Table v85",
	"quality_control_method":      "https://ioos.noaa.gov/ioos-in-action/wave-data/",
	"testOutOfDate":               "now-365days",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// bounds returns the extent of the valid values of a column
func bounds(values []float64) (lo, hi float64, ok bool) {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !obs.IsNull(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 0, 0, false
	}
	return floats.Min(valid), floats.Max(valid), true
}

// GlobalAttributes builds the descriptive attributes stored in the footer of
// a partition. The geospatial extent comes from the positions in the table and
// falls back to the surveyed bounds of the location.
func GlobalAttributes(meta *Location, table *merge.Table, now time.Time) map[string]string {
	attrs := make(map[string]string, len(staticAttributes)+32)
	for k, v := range staticAttributes {
		attrs[k] = v
	}

	attrs["creator_name"] = meta.CreatorName
	attrs["creator_email"] = meta.CreatorEmail
	attrs["creator_institution"] = meta.CreatorInstitution
	attrs["creator_url"] = meta.CreatorURL
	attrs["creator_sector"] = meta.CreatorType
	attrs["institution"] = meta.CreatorInstitution

	if meta.ContributorName == "--" || meta.ContributorName == "" {
		attrs["contributor_name"] = "Backyard Buoys, NSF"
		attrs["contributor_url"] = programURL + ", " + funderURL
		attrs["contributor_role"] = "publisher, funder"
	} else {
		attrs["contributor_name"] = meta.ContributorName + ", Backyard Buoys, NSF"
		attrs["contributor_url"] = meta.ContributorURL + ", " + programURL + ", " + funderURL
		attrs["contributor_role"] = meta.ContributorRole + ", publisher, funder"
	}

	title := "backyardbuoys_" + meta.LocationID
	attrs["title"] = title
	attrs["location_name"] = meta.LocationName
	attrs["location_id"] = meta.LocationID
	attrs["ioos_regional_association"] = meta.IOOSAssociation
	attrs["ioos_regional_association_url"] = meta.IOOSURL
	attrs["wmo_platform_code"] = meta.WMOCode
	attrs["id"] = meta.WMOCode
	attrs["citation"] = meta.CreatorInstitution + ". " + strconv.Itoa(now.Year()) + ". " + title +
		". Backyard Buoys. " + programURL + "erddap/" + title
	attrs["creation_date"] = now.UTC().Format("2006-01-02")

	latMin, latMax := meta.SouthernBound, meta.NorthernBound
	lonMin, lonMax := meta.WesternBound, meta.EasternBound
	var lats, lons []float64
	for _, r := range table.Rows {
		lats = append(lats, r.Latitude)
		lons = append(lons, r.Longitude)
	}
	if lo, hi, ok := bounds(lats); ok {
		latMin, latMax = lo, hi
	}
	if lo, hi, ok := bounds(lons); ok {
		lonMin, lonMax = lo, hi
	}
	attrs["geospatial_lat_min"] = formatFloat(latMin)
	attrs["geospatial_lat_max"] = formatFloat(latMax)
	attrs["geospatial_lon_min"] = formatFloat(lonMin)
	attrs["geospatial_lon_max"] = formatFloat(lonMax)

	if !table.Empty() {
		attrs["time_coverage_start"] = time.Unix(table.First(), 0).UTC().Format(time.RFC3339)
		attrs["time_coverage_end"] = time.Unix(table.Last(), 0).UTC().Format(time.RFC3339)
	}

	keywords := []string{"buoy", "nsf", "observing", "ocean", "surface", "time", "wave"}
	keywords = append(keywords, table.Variables...)
	attrs["keywords"] = strings.Join(keywords, ", ")

	attrs["qc_flag_values"] = qc.FlagValues
	attrs["qc_flag_meanings"] = qc.FlagMeanings
	attrs["qc_tests_run_comment"] = "Digits of the QARTOD tests run, in order. 1: Gross Range Test, 2: Spike Test, 3: Flat-line Test, 4: Rate-of-change Test"
	return attrs
}
