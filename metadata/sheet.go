package metadata

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"buoy_importer/obs"
	"buoy_importer/qc"
)

// SheetRow is one row of the CSV export of the metadata sheet
type SheetRow struct {
	LocationName      string `csv:"Location Name"`
	OwnerName         string `csv:"Owner Name"`
	OwnerEmail        string `csv:"Owner Email"`
	OwnerOrganization string `csv:"Owner Organization"`
	OwnerURL          string `csv:"Owner URL"`
	OwnerSector       string `csv:"Owner Sector"`
	Contributors      string `csv:"Contributor_fields"`
	IOOSAssociation   string `csv:"IOOS_association"`
	WMOCode           string `csv:"WMO_Code"`
	NorthernBound     string `csv:"Northern_bound"`
	SouthernBound     string `csv:"Southern_bound"`
	WesternBound      string `csv:"Western_bound"`
	EasternBound      string `csv:"Eastern_bound"`
}

func ReadMetadataSheet(path string) ([]SheetRow, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var rows []SheetRow
	if err := gocsv.UnmarshalFile(fh, &rows); err != nil {
		return nil, fmt.Errorf("could not parse metadata sheet '%s': %w", path, err)
	}
	return rows, nil
}

// FindRow returns the sheet row whose location name matches the API label
func FindRow(rows []SheetRow, label string) (*SheetRow, bool) {
	for i := range rows {
		if rows[i].LocationName == label {
			return &rows[i], true
		}
	}
	return nil, false
}

// NERC G04 contributor role codes
// https://vocab.nerc.ac.uk/collection/G04/current/
var contributorRoles = map[string]string{
	"001": "resourceProvider",
	"002": "custodian",
	"003": "owner",
	"004": "user",
	"005": "distributor",
	"006": "originator",
	"007": "pointOfContact",
	"008": "principalInvestigator",
	"009": "processor",
	"010": "publisher",
	"011": "author",
	"012": "sponsor",
	"013": "coAuthor",
	"014": "collaborator",
	"015": "editor",
	"016": "mediator",
	"017": "rightsHolder",
	"018": "contributor",
	"019": "distributor",
	"020": "stakeholder",
}

var ioosURLs = map[string]string{
	"AOOS":     "https://aoos.org/",
	"NANOOS":   "https://www.nanoos.org/",
	"CENCOOS":  "https://cencoos.org/",
	"SCCOOS":   "https://sccoos.org/",
	"PacIOOS":  "https://www.pacioos.hawaii.edu/",
	"GLOS":     "https://glos.org/",
	"GCOOS":    "https://gcoos.org/",
	"NERACOOS": "https://neracoos.org/",
	"MARACOOS": "https://maracoos.org/",
	"SECOORA":  "https://secoora.org/",
	"CariCOOS": "https://www.caricoos.org/",
}

func contributorRole(code string) string {
	if role, ok := contributorRoles[code]; ok {
		return role
	}
	return code
}

// parseContributors splits the "name, role, url" entries of the sheet,
// separated by ';' or new lines, into the three comma joined attributes
func parseContributors(field string) (names, roles, urls string) {
	var entries []string
	if strings.Contains(field, ";") {
		entries = strings.Split(field, ";")
	} else {
		entries = strings.Split(field, "\n")
	}

	var n, r, u []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		parts := strings.Split(e, ",")
		n = append(n, strings.TrimSpace(parts[0]))

		role, url := "None", "None"
		if len(parts) > 1 {
			role = contributorRole(strings.TrimSpace(parts[1]))
		}
		if len(parts) > 2 {
			url = strings.TrimSpace(parts[2])
		}
		r = append(r, role)
		u = append(u, url)
	}
	return strings.Join(n, ", "), strings.Join(r, ", "), strings.Join(u, ", ")
}

// parseBound reads a bound cell, which is either a number or a "lat, lon" pair
func parseBound(cell string, index int) (float64, error) {
	parts := strings.Split(cell, ",")
	if len(parts) > 1 {
		cell = parts[index]
	}
	return strconv.ParseFloat(strings.TrimSpace(cell), 64)
}

// Build converts a sheet row into location metadata
func (row *SheetRow) Build(locationID, label string) (*Location, error) {
	names, roles, urls := parseContributors(row.Contributors)
	meta := &Location{
		LocationName:       label,
		LocationID:         locationID,
		CreatorName:        row.OwnerName,
		CreatorEmail:       row.OwnerEmail,
		CreatorInstitution: row.OwnerOrganization,
		CreatorURL:         row.OwnerURL,
		CreatorType:        row.OwnerSector,
		ContributorName:    names,
		ContributorRole:    roles,
		ContributorURL:     urls,
		IOOSAssociation:    row.IOOSAssociation,
		IOOSURL:            ioosURLs[row.IOOSAssociation],
		WMOCode:            row.WMOCode,
	}
	if meta.ContributorName == "" {
		meta.ContributorName = "--"
	}

	var err error
	bounds := []struct {
		dst   *float64
		cell  string
		index int
	}{
		{&meta.NorthernBound, row.NorthernBound, 0},
		{&meta.SouthernBound, row.SouthernBound, 0},
		{&meta.WesternBound, row.WesternBound, 1},
		{&meta.EasternBound, row.EasternBound, 1},
	}
	for _, b := range bounds {
		if *b.dst, err = parseBound(b.cell, b.index); err != nil {
			return nil, fmt.Errorf("%s: invalid bound '%s': %w", locationID, b.cell, err)
		}
	}
	return meta, nil
}

// ReadQCSheet reads the CSV export of the QC limits sheet, one row per
// location id plus a "default" row
func ReadQCSheet(path string) ([]map[string]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	rows, err := gocsv.CSVToMaps(fh)
	if err != nil {
		return nil, fmt.Errorf("could not parse QC sheet '%s': %w", path, err)
	}
	return rows, nil
}

const defaultLimitsRow = "default"

// limitKeys returns the limits keys of every published variable
func limitKeys() map[string]bool {
	var variables []string
	for _, v := range append(slices.Clone(obs.SurfaceVariables), obs.SubsurfaceVariables...) {
		variables = append(variables, v.Name)
	}

	out := make(map[string]bool)
	for _, key := range qc.LimitKeys(variables) {
		out[key] = true
	}
	return out
}

// BuildLimits picks the QC sheet row of a location, falling back to the
// default row, and converts it into a limits file
func BuildLimits(rows []map[string]string, locationID string, now time.Time) (*qc.LimitsFile, error) {
	var row map[string]string
	usedDefault := false
	for _, r := range rows {
		if r["loc_id"] == locationID {
			row = r
			break
		}
	}
	if row == nil {
		for _, r := range rows {
			if r["loc_id"] == defaultLimitsRow {
				row = r
				usedDefault = true
				break
			}
		}
	}
	if row == nil {
		return nil, fmt.Errorf("%s: no QC limits row and no '%s' row", locationID, defaultLimitsRow)
	}

	known := limitKeys()
	limits := make(map[string]float64, len(row))
	for key, cell := range row {
		cell = strings.TrimSpace(cell)
		if key == "loc_id" || cell == "" {
			continue
		}
		if !known[key] {
			slog.Warn(fmt.Sprintf("%s: ignoring QC sheet column '%s', not a limit of a published variable", locationID, key))
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s: ignoring non-numeric QC limit %s=%q", locationID, key, cell))
			continue
		}
		limits[key] = v
	}

	file := &qc.LimitsFile{
		LocationID:        locationID,
		CreationDate:      now.Format(creationFormat),
		DefaultLimitsUsed: usedDefault,
		Limits:            limits,
	}
	if _, err := file.Overrides(); err != nil {
		return nil, fmt.Errorf("%s: %w", locationID, err)
	}
	return file, nil
}

// SaveLimits writes the QC limits file of a location, archiving the previous one
func SaveLimits(dir string, file *qc.LimitsFile, now time.Time) error {
	path := LimitsPath(dir, file.LocationID)
	if err := archive(path, fmt.Sprintf("%s_qartod_%s.json", file.LocationID, now.Format("20060102"))); err != nil {
		return err
	}
	return qc.WriteLimitsFile(path, file)
}

// LoadOverrides reads the stored QC limits of a location
func LoadOverrides(dir, locationID string) (qc.Overrides, bool, error) {
	file, err := qc.ReadLimitsFile(LimitsPath(dir, locationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, fmt.Errorf("%s: no QC limits: %w", locationID, ErrNoMetadata)
		}
		return nil, false, err
	}
	overrides, err := file.Overrides()
	return overrides, file.DefaultLimitsUsed, err
}
