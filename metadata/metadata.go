package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrNoMetadata = errors.New("no metadata for location")

const creationFormat = "2006-01-02T15:04:05"

// Location holds the descriptive metadata of a deployment site
type Location struct {
	LocationName       string  `json:"location_name"`
	LocationID         string  `json:"location_id"`
	CreatorName        string  `json:"creator_name"`
	CreatorEmail       string  `json:"creator_email"`
	CreatorInstitution string  `json:"creator_institution"`
	CreatorURL         string  `json:"creator_url"`
	CreatorType        string  `json:"creator_type"`
	ContributorName    string  `json:"contributor_name"`
	ContributorRole    string  `json:"contributor_role"`
	ContributorURL     string  `json:"contributor_url"`
	IOOSAssociation    string  `json:"ioos_association"`
	IOOSURL            string  `json:"ioos_url"`
	WMOCode            string  `json:"wmo_code"`
	NorthernBound      float64 `json:"northern_bound"`
	SouthernBound      float64 `json:"southern_bound"`
	WesternBound       float64 `json:"western_bound"`
	EasternBound       float64 `json:"eastern_bound"`
}

type file struct {
	CreationDate string   `json:"creation_date"`
	Metadata     Location `json:"metadata"`
}

func MetadataPath(dir, locationID string) string {
	return filepath.Join(dir, locationID+"_metadata.json")
}

func LimitsPath(dir, locationID string) string {
	return filepath.Join(dir, locationID+"_qartod.json")
}

// Exists reports whether the descriptive metadata file of a location is present
func Exists(dir, locationID string) bool {
	_, err := os.Stat(MetadataPath(dir, locationID))
	return err == nil
}

// Load reads the metadata of a location from its metadata directory
func Load(dir, locationID string) (*Location, error) {
	b, err := os.ReadFile(MetadataPath(dir, locationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", locationID, ErrNoMetadata)
		}
		return nil, err
	}

	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s: malformed metadata, %w", locationID, err)
	}
	if f.Metadata.LocationID == "" {
		return nil, fmt.Errorf("%s: metadata without location id: %w", locationID, ErrNoMetadata)
	}
	return &f.Metadata, nil
}

// Save writes the metadata of a location, archiving the previous file
func Save(dir string, meta *Location, now time.Time) error {
	b, err := json.MarshalIndent(file{CreationDate: now.Format(creationFormat), Metadata: *meta}, "", "    ")
	if err != nil {
		return err
	}
	path := MetadataPath(dir, meta.LocationID)
	if err := archive(path, fmt.Sprintf("%s_metadata_%s.json", meta.LocationID, now.Format("20060102"))); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// archive moves an existing file into the archive directory next to it
func archive(path, name string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(filepath.Dir(path), 0o755)
		}
		return err
	}

	dir := filepath.Join(filepath.Dir(path), "archive")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, name))
}
