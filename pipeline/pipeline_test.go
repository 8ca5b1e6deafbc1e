package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buoy_importer/archive"
	"buoy_importer/bbapi"
	"buoy_importer/catalog"
	"buoy_importer/config"
	"buoy_importer/metadata"
	"buoy_importer/obs"
	"buoy_importer/partition"
	"buoy_importer/qc"
)

const metadataSheet = `Location Name,Owner Name,Owner Email,Owner Organization,Owner URL,Owner Sector,Contributor_fields,IOOS_association,WMO_Code,Northern_bound,Southern_bound,Western_bound,Eastern_bound
La Push,Quileute Tribe,contact@example.org,Quileute Natural Resources,https://example.org,tribal,,NANOOS,46099,48,47,-125,-124
Neah Bay,Makah Tribe,contact@example.org,Makah Fisheries,https://example.org,tribal,,NANOOS,46100,48.5,48,-125,-124.5
`

const qcSheet = `loc_id,sea_surface_temperature_rate_of_change_test_threshold
default,
`

var (
	height = obs.WaveHeightSig.Name
	t0     = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
)

type fakeSource struct {
	locations []bbapi.Location
	data      map[string][]obs.Observation
	failures  map[string]error
	since     map[string]time.Time
}

func (f *fakeSource) Locations(_ context.Context) ([]bbapi.Location, error) {
	return f.locations, nil
}

func (f *fakeSource) LocationData(_ context.Context, locationID string, since time.Time) ([]obs.Observation, error) {
	f.since[locationID] = since
	if err := f.failures[locationID]; err != nil {
		return nil, err
	}

	var out []obs.Observation
	for _, o := range f.data[locationID] {
		if o.Timestamp >= since.Unix() {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil, bbapi.ErrNoData
	}
	return out, nil
}

type fakeArchiver struct {
	exported []archive.Obs
}

func (f *fakeArchiver) Export(_ context.Context, current, previous *partition.Partition) (int64, error) {
	rows := archive.Changed(current, previous)
	f.exported = append(f.exported, rows...)
	return int64(len(rows)), nil
}

func heights(locationID string, start int, values ...float64) []obs.Observation {
	out := make([]obs.Observation, len(values))
	for i, v := range values {
		out[i] = obs.Observation{
			Timestamp:  t0.Add(time.Duration(start+i) * 30 * time.Minute).Unix(),
			LocationID: locationID,
			PlatformID: "SPOT-" + locationID,
			Variable:   height,
			Class:      obs.WaveHeightSig.Class,
			Value:      v,
			Latitude:   47.9,
			Longitude:  -124.6,
		}
	}
	return out
}

func newRunner(t *testing.T, source *fakeSource) *Runner {
	dir := t.TempDir()
	sheets := filepath.Join(dir, "sheets")
	require.NoError(t, os.MkdirAll(sheets, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sheets, "metadata.csv"), []byte(metadataSheet), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sheets, "qartod_limits.csv"), []byte(qcSheet), 0o644))

	cfg := config.Default()
	cfg.BaseDir = dir
	cfg.Metadata.MetadataSheet = filepath.Join(sheets, "metadata.csv")
	cfg.Metadata.QCSheet = filepath.Join(sheets, "qartod_limits.csv")
	cfg.Catalog.Path = filepath.Join(dir, "catalog.yaml")
	cfg.Lookback = 12 * time.Hour
	cfg.StaleShift = 12 * time.Hour

	runner, err := NewRunner(cfg, source, nil)
	require.NoError(t, err)
	runner.Now = func() time.Time { return t0.Add(48 * time.Hour) }
	return runner
}

func newSource() *fakeSource {
	return &fakeSource{
		locations: []bbapi.Location{
			{ID: "L1", Label: "La Push", Status: "active"},
			{ID: "L2", Label: "Neah Bay", Status: "inactive"},
		},
		data:     make(map[string][]obs.Observation),
		failures: make(map[string]error),
		since:    make(map[string]time.Time),
	}
}

func TestSelectLocations(t *testing.T) {
	type testCase struct {
		opts     Options
		expected []string
	}

	cases := []testCase{
		{Options{Process: RefreshData}, []string{"L1"}},
		{Options{Process: RefreshData, Rebuild: true}, []string{"L1", "L2"}},
		{Options{Process: RefreshMetadata}, []string{"L1", "L2"}},
		{Options{Process: RefreshData, Locations: []string{"L2", "L9"}, Rebuild: true}, []string{"L2"}},
		{Options{Process: RefreshData, Locations: []string{"L2"}}, nil},
	}

	runner := newRunner(t, newSource())
	for _, c := range cases {
		var ids []string
		for _, loc := range runner.selectLocations(runner.Source.(*fakeSource).locations, c.opts) {
			ids = append(ids, loc.ID)
		}
		if !assert.Equal(t, c.expected, ids) {
			t.Errorf("Got %v, wanted %v", ids, c.expected)
		}
	}
}

func TestRefreshData(t *testing.T) {
	source := newSource()
	source.data["L1"] = heights("L1", 0, 1.0, 1.05, 1.02)
	runner := newRunner(t, source)
	ctx := context.Background()

	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	assert.True(t, source.since["L1"].IsZero(), "first run fetches the whole history")
	assert.NotContains(t, source.since, "L2", "inactive location is skipped")

	// metadata was bootstrapped and the location added to the catalog
	assert.True(t, metadata.Exists(runner.Config.MetadataDir("L1"), "L1"))
	c, err := catalog.Load(runner.Config.Catalog.Path)
	require.NoError(t, err)
	_, ok := c.Find("bb_L1")
	assert.True(t, ok)

	key := partition.KeyOf("L1", false, t0)
	p, err := runner.Store.Load(key)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, "backyardbuoys_L1", p.Attributes["title"])
	assert.Equal(t, "46099", p.Attributes["wmo_platform_code"])
	assert.Len(t, p.Table.Variables, len(obs.SurfaceVariables))

	// the second fetch overlaps the stored series
	source.data["L1"] = append(heights("L1", 0, 1.0, 1.05), heights("L1", 2, 1.1, 1.2, 1.3)...)
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	assert.Equal(t, t0, source.since["L1"])

	p, err = runner.Store.Load(key)
	require.NoError(t, err)
	require.Equal(t, 5, p.Len())
	assert.Equal(t, 1.1, p.Table.Rows[2].Value(height))
	assert.Equal(t, 1.3, p.Table.Rows[4].Value(height))
	require.Contains(t, p.QC, height)
	assert.Len(t, p.QC[height].Aggregate, 5)

	// no smart mooring data, no smart partitions
	keys, err := runner.Store.List("L1", true)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRefreshDataSmartMooring(t *testing.T) {
	source := newSource()
	source.data["L1"] = heights("L1", 0, 1.0, 1.1)
	source.data["L1"] = append(source.data["L1"], obs.Observation{
		Timestamp:  t0.Unix(),
		LocationID: "L1",
		PlatformID: "SMART-1",
		Variable:   obs.SeaWaterTemp.Name,
		Class:      obs.SeaWaterTemp.Class,
		Value:      8.5,
		Depth:      10,
	})
	runner := newRunner(t, source)

	require.NoError(t, runner.Run(context.Background(), Options{Process: RefreshData}))

	p, err := runner.Store.Load(partition.KeyOf("L1", true, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 8.5, p.Table.Rows[0].Value(obs.SeaWaterTemp.Name))

	surface, err := runner.Store.Load(partition.KeyOf("L1", false, t0))
	require.NoError(t, err)
	assert.Equal(t, 2, surface.Len())
}

func TestRefreshDataContinuesPastFailures(t *testing.T) {
	source := newSource()
	source.locations[1].Status = "active"
	source.failures["L1"] = errors.New("connection reset")
	source.data["L2"] = heights("L2", 0, 0.8, 0.9)
	runner := newRunner(t, source)

	err := runner.Run(context.Background(), Options{Process: RefreshData})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "L1")

	_, err = runner.Store.Load(partition.KeyOf("L2", false, t0))
	assert.NoError(t, err)
}

func TestRerunQC(t *testing.T) {
	source := newSource()
	source.data["L1"] = heights("L1", 0, 1.0, 1.05, 1.02)
	runner := newRunner(t, source)
	ctx := context.Background()
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))

	limits := &qc.LimitsFile{
		LocationID: "L1",
		Limits: map[string]float64{
			height + "_gross_range_test_suspect_min": 0,
			height + "_gross_range_test_suspect_max": 0.5,
			height + "_gross_range_test_fail_min":    0,
			height + "_gross_range_test_fail_max":    0.8,
		},
	}
	dir := runner.Config.MetadataDir("L1")
	require.NoError(t, qc.WriteLimitsFile(metadata.LimitsPath(dir, "L1"), limits))

	// nothing new upstream, only the stored partitions are re-evaluated
	source.data["L1"] = nil
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData, RerunQC: true}))

	p, err := runner.Store.Load(partition.KeyOf("L1", false, t0))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, []qc.Flag{qc.Fail, qc.Fail, qc.Fail}, p.QC[height].GrossRange)
	assert.Equal(t, []qc.Flag{qc.Fail, qc.Fail, qc.Fail}, p.QC[height].Aggregate)
}

func TestRefreshMetadataAndWMO(t *testing.T) {
	source := newSource()
	source.data["L1"] = heights("L1", 0, 1.0, 1.05)
	runner := newRunner(t, source)
	ctx := context.Background()

	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))

	dir := runner.Config.MetadataDir("L1")
	meta, err := metadata.Load(dir, "L1")
	require.NoError(t, err)
	meta.WMOCode = "46200"
	require.NoError(t, metadata.Save(dir, meta, t0))

	require.NoError(t, runner.Run(ctx, Options{Process: RefreshWMO, Locations: []string{"L1"}}))
	p, err := runner.Store.Load(partition.KeyOf("L1", false, t0))
	require.NoError(t, err)
	assert.Equal(t, "46200", p.Attributes["wmo_platform_code"])
	assert.Equal(t, 2, p.Len())

	// regenerating from the sheet restores the sheet value and archives the edit
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshMetadata, Locations: []string{"L1"}}))
	meta, err = metadata.Load(dir, "L1")
	require.NoError(t, err)
	assert.Equal(t, "46099", meta.WMOCode)
	entries, err := os.ReadDir(filepath.Join(dir, "archive"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRefreshCatalog(t *testing.T) {
	source := newSource()
	runner := newRunner(t, source)
	runner.Config.Catalog.ServerURL = "https://erddap.example.org/erddap/"

	require.NoError(t, runner.refreshMetadata(source.locations[0], false))
	require.NoError(t, runner.Run(context.Background(), Options{Process: RefreshCatalog}))

	c, err := catalog.Load(runner.Config.Catalog.Path)
	require.NoError(t, err)
	// L2 has no metadata
	require.Len(t, c.Datasets, 1)
	d := c.Datasets[0]
	assert.Equal(t, "bb_L1", d.ID)
	assert.Equal(t, "https://erddap.example.org/erddap/tabledap/bb_L1.html", d.URL)
	assert.Equal(t, partition.FileRegex("L1", false), d.FileRegex)
	assert.Len(t, d.Variables, len(obs.SurfaceVariables))
}

func TestRefreshDataAcrossMonthBoundary(t *testing.T) {
	source := newSource()
	// 2024-02-29 22:00 to 2024-03-01 01:30
	source.data["L1"] = heights("L1", -4, 1.0, 1.4, 1.1, 1.5, 1.2, 1.6, 1.3, 1.7)
	runner := newRunner(t, source)
	ctx := context.Background()
	march := partition.KeyOf("L1", false, t0)

	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	first, err := runner.Store.Load(march)
	require.NoError(t, err)
	require.Equal(t, 4, first.Len())
	february := partition.KeyOf("L1", false, t0.Add(-time.Hour))
	feb, err := runner.Store.Load(february)
	require.NoError(t, err)
	require.Equal(t, 4, feb.Len())

	// the same upstream data again, only March is re-merged
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	assert.Equal(t, t0, source.since["L1"])
	second, err := runner.Store.Load(march)
	require.NoError(t, err)
	assert.Equal(t, first.QC[height], second.QC[height])
	assert.NotEqual(t, qc.NotEvaluated, second.QC[height].RateOfChange[0])

	// and the flags survive a rerun of the QC over every partition
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData, RerunQC: true}))
	third, err := runner.Store.Load(march)
	require.NoError(t, err)
	assert.Equal(t, first.QC[height], third.QC[height])
	rerunFeb, err := runner.Store.Load(february)
	require.NoError(t, err)
	assert.Equal(t, feb.QC[height], rerunFeb.QC[height])
}

func TestRefreshDataRegeneratesMetadata(t *testing.T) {
	source := newSource()
	source.data["L1"] = heights("L1", 0, 1.0, 1.05)
	runner := newRunner(t, source)
	ctx := context.Background()
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))

	dir := runner.Config.MetadataDir("L1")
	limitsPath := metadata.LimitsPath(dir, "L1")
	require.NoError(t, os.Remove(limitsPath))
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	_, err := os.Stat(limitsPath)
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(metadata.MetadataPath(dir, "L1"), []byte("{"), 0o644))
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	meta, err := metadata.Load(dir, "L1")
	require.NoError(t, err)
	assert.Equal(t, "46099", meta.WMOCode)

	// the sheet no longer knows the location, the location is skipped
	require.NoError(t, os.WriteFile(metadata.MetadataPath(dir, "L1"), []byte("{"), 0o644))
	runner.metadataRows = []metadata.SheetRow{{LocationName: "Elsewhere"}}
	err = runner.Run(ctx, Options{Process: RefreshData})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not regenerate metadata")
}

func TestRefreshDataArchivesChangesOnly(t *testing.T) {
	source := newSource()
	source.data["L1"] = heights("L1", 0, 1.0, 1.05, 1.02)
	runner := newRunner(t, source)
	archiver := &fakeArchiver{}
	runner.Archive = archiver
	ctx := context.Background()

	for range 3 {
		require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	}
	require.Len(t, archiver.exported, 3)

	source.data["L1"] = heights("L1", 0, 1.0, 1.05, 1.02, 1.1)
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	added := archiver.exported[3:]
	require.NotEmpty(t, added)
	assert.Less(t, len(added), 4)
	assert.Equal(t, t0.Add(90*time.Minute), added[len(added)-1].ObsTime)
}

func TestRefreshDataFirstSmartSamples(t *testing.T) {
	source := newSource()
	source.data["L1"] = heights("L1", 0, 1.0, 1.1)
	runner := newRunner(t, source)
	ctx := context.Background()
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))

	smart := func(at time.Time, value float64) obs.Observation {
		return obs.Observation{
			Timestamp:  at.Unix(),
			LocationID: "L1",
			PlatformID: "SMART-1",
			Variable:   obs.SeaWaterTemp.Name,
			Class:      obs.SeaWaterTemp.Class,
			Value:      value,
			Depth:      10,
		}
	}
	// the mooring was deployed before the surface cursor
	source.data["L1"] = append(source.data["L1"], smart(t0.Add(-24*time.Hour), 8.1), smart(t0.Add(time.Hour), 8.4))
	require.NoError(t, runner.Run(ctx, Options{Process: RefreshData}))
	assert.True(t, source.since["L1"].IsZero())

	feb, err := runner.Store.Load(partition.KeyOf("L1", true, t0.Add(-24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 8.1, feb.Table.Rows[0].Value(obs.SeaWaterTemp.Name))
	mar, err := runner.Store.Load(partition.KeyOf("L1", true, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, mar.Len())

	surface, err := runner.Store.Load(partition.KeyOf("L1", false, t0))
	require.NoError(t, err)
	assert.Equal(t, 2, surface.Len())
}
