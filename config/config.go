package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rickb777/period"
	"gopkg.in/yaml.v3"
)

type APIConfig struct {
	LocationsURL      string  `yaml:"locations_url"`
	LocationDataURL   string  `yaml:"location_data_url"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type MergeConfig struct {
	// Reload window before the start of the day of the last stored sample
	Lookback string `yaml:"lookback"`
	// Extra reload window when the loaded partition is not the latest on disk
	StaleShift string `yaml:"stale_shift"`
}

type PartitionConfig struct {
	Compression string `yaml:"compression"`
	CSVExport   bool   `yaml:"csv_export"`
}

type MetadataConfig struct {
	// CSV exports of the metadata and QC limits sheets
	MetadataSheet string `yaml:"metadata_sheet"`
	QCSheet       string `yaml:"qc_sheet"`
}

type CatalogConfig struct {
	Path      string `yaml:"path"`
	ServerURL string `yaml:"server_url"`
}

type EmailConfig struct {
	Host       string   `yaml:"host"`
	Port       string   `yaml:"port"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Conn    string `yaml:"-"`
	Table   string `yaml:"table"`
}

type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// Config is resolved once at start up and passed to every component
type Config struct {
	BaseDir   string          `yaml:"base_dir"`
	API       APIConfig       `yaml:"api"`
	Merge     MergeConfig     `yaml:"merge"`
	Partition PartitionConfig `yaml:"partition"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Email     EmailConfig     `yaml:"email"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// parsed durations
	APITimeout time.Duration `yaml:"-"`
	Lookback   time.Duration `yaml:"-"`
	StaleShift time.Duration `yaml:"-"`
}

func Default() *Config {
	return &Config{
		BaseDir: "./data",
		API: APIConfig{
			LocationsURL:      "https://data.backyardbuoys.org/get_locations",
			LocationDataURL:   "https://data.backyardbuoys.org/get_location_data",
			Timeout:           "PT30S",
			RequestsPerSecond: 2,
			Burst:             1,
		},
		Merge:     MergeConfig{Lookback: "PT12H", StaleShift: "PT12H"},
		Partition: PartitionConfig{Compression: "SNAPPY"},
		Metadata: MetadataConfig{
			MetadataSheet: "sheets/metadata.csv",
			QCSheet:       "sheets/qartod_limits.csv",
		},
		Catalog: CatalogConfig{Path: "catalog.yaml"},
		Email: EmailConfig{
			Host: "localhost",
			Port: "25",
			From: "backyardbuoys-noreply@localhost",
		},
		Archive: ArchiveConfig{Table: "buoy_obs"},
		Metrics: MetricsConfig{Job: "buoy_importer"},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config '%s': %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides endpoints and secrets with the BB_* variables
func (cfg *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&cfg.BaseDir, "BB_BASE_DIR")
	if v := getenv("BB_API_URL"); v != "" {
		v = strings.TrimRight(v, "/")
		cfg.API.LocationsURL = v + "/get_locations"
		cfg.API.LocationDataURL = v + "/get_location_data"
	}
	set(&cfg.Archive.Conn, "BB_ARCHIVE_CONN")
	set(&cfg.Metrics.Pushgateway, "BB_PUSHGATEWAY")
	set(&cfg.Email.Host, "BB_SMTP_HOST")
	if v := getenv("BB_EMAIL"); v != "" {
		cfg.Email.Recipients = strings.Split(v, ",")
	}
}

func (cfg *Config) resolve() error {
	var err error
	if cfg.APITimeout, err = ParseDuration(cfg.API.Timeout); err != nil {
		return fmt.Errorf("api.timeout: %w", err)
	}
	if cfg.Lookback, err = ParseDuration(cfg.Merge.Lookback); err != nil {
		return fmt.Errorf("merge.lookback: %w", err)
	}
	if cfg.StaleShift, err = ParseDuration(cfg.Merge.StaleShift); err != nil {
		return fmt.Errorf("merge.stale_shift: %w", err)
	}

	if cfg.BaseDir == "" {
		return errors.New("base_dir must be set")
	}
	if cfg.API.RequestsPerSecond <= 0 {
		return errors.New("api.requests_per_second must be positive")
	}
	if cfg.Archive.Enabled && cfg.Archive.Conn == "" {
		return errors.New("archive is enabled but BB_ARCHIVE_CONN is not set")
	}

	cfg.Metadata.MetadataSheet = cfg.resolvePath(cfg.Metadata.MetadataSheet)
	cfg.Metadata.QCSheet = cfg.resolvePath(cfg.Metadata.QCSheet)
	cfg.Catalog.Path = cfg.resolvePath(cfg.Catalog.Path)
	return nil
}

// resolvePath makes relative paths relative to the base directory
func (cfg *Config) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.BaseDir, path)
}

// ParseDuration parses an ISO-8601 period such as "PT12H".
// Calendar units are measured from the Unix epoch.
func ParseDuration(s string) (time.Duration, error) {
	p, err := period.Parse(s)
	if err != nil {
		return 0, err
	}

	ref := time.Unix(0, 0).UTC()
	end, ok := p.AddTo(ref)
	if !ok {
		return 0, fmt.Errorf("period '%s' cannot be expressed as a duration", s)
	}
	return end.Sub(ref), nil
}

// MetadataDir is where the descriptive and QC metadata of a location live
func (cfg *Config) MetadataDir(locationID string) string {
	return filepath.Join(cfg.BaseDir, locationID, "metadata")
}
