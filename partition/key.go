package partition

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Key identifies one partition file
type Key struct {
	LocationID string
	Year       int
	Month      time.Month
	// Smart mooring (subsurface) variant
	Smart bool
}

func KeyOf(locationID string, smart bool, t time.Time) Key {
	t = t.UTC()
	return Key{LocationID: locationID, Year: t.Year(), Month: t.Month(), Smart: smart}
}

func (k Key) String() string {
	if k.Smart {
		return fmt.Sprintf("%s/smart/%04d-%02d", k.LocationID, k.Year, k.Month)
	}
	return fmt.Sprintf("%s/%04d-%02d", k.LocationID, k.Year, k.Month)
}

// Start returns the first instant covered by the partition
func (k Key) Start() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant after the partition
func (k Key) End() time.Time {
	return k.Start().AddDate(0, 1, 0)
}

func (k Key) Before(other Key) bool {
	return k.Start().Before(other.Start())
}

// FileName is the published name of the partition file
func (k Key) FileName() string {
	if k.Smart {
		return fmt.Sprintf("bb_%s_smart_%04d_%02d.parquet", k.LocationID, k.Year, k.Month)
	}
	return fmt.Sprintf("bb_%s_%04d_%02d.parquet", k.LocationID, k.Year, k.Month)
}

// DatasetID names the published dataset of a location variant
func DatasetID(locationID string, smart bool) string {
	if smart {
		return fmt.Sprintf("bb_%s_smart", locationID)
	}
	return "bb_" + locationID
}

// FileRegex matches the partition files of a location variant
func FileRegex(locationID string, smart bool) string {
	return fmt.Sprintf(`^%s_\d{4}_\d{2}\.parquet$`, regexp.QuoteMeta(DatasetID(locationID, smart)))
}

var fileNamePattern = regexp.MustCompile(`^bb_(.+?)(_smart)?_(\d{4})_(\d{2})\.parquet$`)

// ParseFileName recovers the key of a partition file name
func ParseFileName(name string) (Key, error) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return Key{}, fmt.Errorf("'%s' is not a partition file", name)
	}

	year, _ := strconv.Atoi(m[3])
	month, _ := strconv.Atoi(m[4])
	if month < 1 || month > 12 {
		return Key{}, fmt.Errorf("'%s' has invalid month %d", name, month)
	}

	return Key{LocationID: m[1], Year: year, Month: time.Month(month), Smart: m[2] != ""}, nil
}
