package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Dataset is one published dataset of the catalog server
type Dataset struct {
	ID           string   `yaml:"id"`
	LocationID   string   `yaml:"location_id"`
	LocationName string   `yaml:"location_name,omitempty"`
	Title        string   `yaml:"title"`
	FileDir      string   `yaml:"file_dir"`
	FileRegex    string   `yaml:"file_regex"`
	Smart        bool     `yaml:"smart_mooring,omitempty"`
	WMOCode      string   `yaml:"wmo_code,omitempty"`
	URL          string   `yaml:"url,omitempty"`
	Variables    []string `yaml:"variables"`
}

type Catalog struct {
	Datasets []Dataset `yaml:"datasets"`
}

// Load reads the catalog file, a missing file is an empty catalog
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Catalog{}, nil
		}
		return nil, err
	}

	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("could not parse catalog '%s': %w", path, err)
	}
	return &c, nil
}

// Save writes the catalog with datasets in id order
func (c *Catalog) Save(path string) error {
	c.sort()
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Catalog) sort() {
	sort.Slice(c.Datasets, func(i, j int) bool { return c.Datasets[i].ID < c.Datasets[j].ID })
}

// Find returns the dataset with the given id
func (c *Catalog) Find(id string) (*Dataset, bool) {
	for i := range c.Datasets {
		if c.Datasets[i].ID == id {
			return &c.Datasets[i], true
		}
	}
	return nil, false
}

// Upsert adds a dataset or replaces the one with the same id.
// Returns true when the dataset is new.
func (c *Catalog) Upsert(d Dataset) bool {
	if existing, ok := c.Find(d.ID); ok {
		*existing = d
		return false
	}
	c.Datasets = append(c.Datasets, d)
	c.sort()
	return true
}

// Remove drops every dataset of a location
func (c *Catalog) Remove(locationID string) int {
	kept := c.Datasets[:0]
	for _, d := range c.Datasets {
		if d.LocationID != locationID {
			kept = append(kept, d)
		}
	}
	removed := len(c.Datasets) - len(kept)
	c.Datasets = kept
	return removed
}
