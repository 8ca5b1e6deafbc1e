package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	type testCase struct {
		input    string
		expected time.Duration
	}

	cases := []testCase{
		{"PT12H", 12 * time.Hour},
		{"PT30S", 30 * time.Second},
		{"P1D", 24 * time.Hour},
		{"PT1H30M", 90 * time.Minute},
	}

	for _, c := range cases {
		result, err := ParseDuration(c.input)
		require.NoError(t, err)
		if result != c.expected {
			t.Errorf("Got %v, wanted %v", result, c.expected)
		}
	}

	_, err := ParseDuration("12 hours")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buoy_importer.yaml")
	content := `
base_dir: ` + dir + `
merge:
  lookback: PT6H
partition:
  compression: GZIP
  csv_export: true
catalog:
  path: out/catalog.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("BB_API_URL", "http://localhost:8080/")
	t.Setenv("BB_EMAIL", "a@example.com,b@example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6*time.Hour, cfg.Lookback)
	assert.Equal(t, 12*time.Hour, cfg.StaleShift)
	assert.Equal(t, 30*time.Second, cfg.APITimeout)
	assert.Equal(t, "GZIP", cfg.Partition.Compression)
	assert.True(t, cfg.Partition.CSVExport)
	assert.Equal(t, "http://localhost:8080/get_location_data", cfg.API.LocationDataURL)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Email.Recipients)
	assert.Equal(t, filepath.Join(dir, "out", "catalog.yaml"), cfg.Catalog.Path)
	assert.Equal(t, filepath.Join(dir, "L1", "metadata"), cfg.MetadataDir("L1"))
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")

	require.NoError(t, os.WriteFile(path, []byte("merge:\n  lookback: yesterday\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("archive:\n  enabled: true\n"), 0o644))
	t.Setenv("BB_ARCHIVE_CONN", "")
	_, err = Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
