package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buoy_importer/merge"
	"buoy_importer/obs"
)

const metadataSheet = `Location Name,Owner Name,Owner Email,Owner Organization,Owner URL,Owner Sector,Contributor_fields,IOOS_association,WMO_Code,Northern_bound,Southern_bound,Western_bound,Eastern_bound
La Push,Quileute Tribe,contact@example.org,Quileute Natural Resources,https://example.org,tribal,"Jane Doe, 008, https://jane.example.org; Coast Lab, 999",NANOOS,46099,"47.95, -124.70","47.85, -124.70","47.90, -124.75","47.90, -124.55"
Other Place,Someone,,,,,,AOOS,,60.1,60.0,-150.1,-150.0
`

const qcSheet = `loc_id,sea_surface_temperature_gross_range_test_suspect_min,sea_surface_temperature_gross_range_test_suspect_max,sea_surface_temperature_gross_range_test_fail_min,sea_surface_temperature_gross_range_test_fail_max,sea_surface_wave_significant_height_rate_of_change_test_threshold,deployment_year
default,0,30,-5,40,,
L1,5,20,0,30,0.5,2023
`

var now = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildFromSheet(t *testing.T) {
	rows, err := ReadMetadataSheet(writeFile(t, "metadata.csv", metadataSheet))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	row, ok := FindRow(rows, "La Push")
	require.True(t, ok)
	_, ok = FindRow(rows, "Nowhere")
	assert.False(t, ok)

	meta, err := row.Build("L1", "La Push")
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe, Coast Lab", meta.ContributorName)
	assert.Equal(t, "principalInvestigator, 999", meta.ContributorRole)
	assert.Equal(t, "https://jane.example.org, None", meta.ContributorURL)
	assert.Equal(t, "https://www.nanoos.org/", meta.IOOSURL)
	assert.Equal(t, "46099", meta.WMOCode)
	assert.Equal(t, 47.95, meta.NorthernBound)
	assert.Equal(t, 47.85, meta.SouthernBound)
	assert.Equal(t, -124.75, meta.WesternBound)
	assert.Equal(t, -124.55, meta.EasternBound)

	other, err := rows[1].Build("L2", "Other Place")
	require.NoError(t, err)
	assert.Equal(t, "--", other.ContributorName)
	assert.Equal(t, 60.1, other.NorthernBound)
	assert.Equal(t, -150.0, other.EasternBound)
}

func TestInvalidBound(t *testing.T) {
	row := SheetRow{NorthernBound: "north"}
	_, err := row.Build("L1", "La Push")
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "L1", "metadata")
	assert.False(t, Exists(dir, "L1"))

	_, err := Load(dir, "L1")
	assert.ErrorIs(t, err, ErrNoMetadata)

	meta := &Location{LocationID: "L1", LocationName: "La Push", WMOCode: "46099"}
	require.NoError(t, Save(dir, meta, now))
	assert.True(t, Exists(dir, "L1"))

	meta.WMOCode = "46100"
	require.NoError(t, Save(dir, meta, now.Add(24*time.Hour)))

	loaded, err := Load(dir, "L1")
	require.NoError(t, err)
	assert.Equal(t, "46100", loaded.WMOCode)

	// the replaced file is archived under the date of the replacement
	_, err = os.Stat(filepath.Join(dir, "archive", "L1_metadata_20240316.json"))
	assert.NoError(t, err)
}

func TestBuildLimits(t *testing.T) {
	rows, err := ReadQCSheet(writeFile(t, "qartod.csv", qcSheet))
	require.NoError(t, err)

	type testCase struct {
		location    string
		usedDefault bool
		suspectMin  float64
		keys        int
	}

	cases := []testCase{
		{"L1", false, 5, 5},
		{"L9", true, 0, 4},
	}

	for _, c := range cases {
		file, err := BuildLimits(rows, c.location, now)
		require.NoError(t, err)
		assert.Equal(t, c.usedDefault, file.DefaultLimitsUsed)
		assert.Len(t, file.Limits, c.keys)

		overrides, err := file.Overrides()
		require.NoError(t, err)
		sst := overrides[obs.SeaSurfaceTemp.Name]
		require.NotNil(t, sst.GrossRange)
		if sst.GrossRange.SuspectMin != c.suspectMin {
			t.Errorf("Got %v, wanted %v", sst.GrossRange.SuspectMin, c.suspectMin)
		}
	}

	_, err = BuildLimits([]map[string]string{{"loc_id": "L1"}}, "L2", now)
	assert.Error(t, err)
}

func TestSaveAndLoadLimits(t *testing.T) {
	rows, err := ReadQCSheet(writeFile(t, "qartod.csv", qcSheet))
	require.NoError(t, err)
	file, err := BuildLimits(rows, "L9", now)
	require.NoError(t, err)

	dir := t.TempDir()
	_, _, err = LoadOverrides(dir, "L9")
	assert.ErrorIs(t, err, ErrNoMetadata)

	require.NoError(t, SaveLimits(dir, file, now))
	overrides, usedDefault, err := LoadOverrides(dir, "L9")
	require.NoError(t, err)
	assert.True(t, usedDefault)
	assert.Contains(t, overrides, obs.SeaSurfaceTemp.Name)
}

func TestGlobalAttributes(t *testing.T) {
	meta := &Location{
		LocationID:         "L1",
		LocationName:       "La Push",
		CreatorInstitution: "Quileute Natural Resources",
		ContributorName:    "--",
		WMOCode:            "46099",
		NorthernBound:      48,
		SouthernBound:      47,
		WesternBound:       -125,
		EasternBound:       -124,
	}

	table := merge.NewTable("L1", []string{obs.WaveHeightSig.Name})
	attrs := GlobalAttributes(meta, table, now)
	assert.Equal(t, "backyardbuoys_L1", attrs["title"])
	assert.Equal(t, "46099", attrs["wmo_platform_code"])
	assert.Equal(t, "Backyard Buoys, NSF", attrs["contributor_name"])
	assert.Equal(t, "47", attrs["geospatial_lat_min"])
	assert.Equal(t, "-124", attrs["geospatial_lon_max"])
	assert.NotContains(t, attrs, "time_coverage_start")

	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC).Unix()
	table.Rows = []merge.Row{
		{Time: start, PlatformID: "SPOT-1", Latitude: 47.9, Longitude: obs.Null(), Values: map[string]float64{}},
		{Time: start + 1800, PlatformID: "SPOT-1", Latitude: 47.95, Longitude: -124.6, Values: map[string]float64{}},
	}
	meta.ContributorName = "Jane Doe"
	meta.ContributorRole = "principalInvestigator"

	attrs = GlobalAttributes(meta, table, now)
	assert.Equal(t, "Jane Doe, Backyard Buoys, NSF", attrs["contributor_name"])
	assert.Equal(t, "principalInvestigator, publisher, funder", attrs["contributor_role"])
	assert.Equal(t, "47.9", attrs["geospatial_lat_min"])
	assert.Equal(t, "47.95", attrs["geospatial_lat_max"])
	assert.Equal(t, "-124.6", attrs["geospatial_lon_min"])
	assert.Equal(t, "2024-03-01T00:00:00Z", attrs["time_coverage_start"])
	assert.Equal(t, "2024-03-01T00:30:00Z", attrs["time_coverage_end"])
}
