package bbapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Location is a buoy deployment site as listed by the API
type Location struct {
	ID     string `json:"loc_id"`
	Label  string `json:"label"`
	Status string `json:"status"`
}

func (l Location) Active() bool {
	return l.Status == "active"
}

type locationData struct {
	Variables []variableData `json:"variables"`
}

type variableData struct {
	VarID string    `json:"var_id"`
	Units string    `json:"units"`
	Data  dataBlock `json:"data"`
}

// entry is one sample as sent by the API
type entry struct {
	Timestamp  timestamp `json:"timestamp"`
	Value      *float64  `json:"value"`
	Lat        *float64  `json:"lat"`
	Lon        *float64  `json:"lon"`
	Depth      *float64  `json:"depth"`
	PlatformID string    `json:"platform_id"`
	Type       string    `json:"type"`
}

// columns is the parallel array form of a data block
type columns struct {
	Timestamp  []timestamp `json:"timestamp"`
	Value      []*float64  `json:"value"`
	Lat        []*float64  `json:"lat"`
	Lon        []*float64  `json:"lon"`
	Depth      []*float64  `json:"depth"`
	PlatformID []string    `json:"platform_id"`
	Type       []string    `json:"type"`
}

// dataBlock accepts both the list of entries and the parallel arrays form.
// Parallel arrays are checked for equal length and turned into entries here,
// nothing downstream relies on index alignment.
type dataBlock []entry

func (d *dataBlock) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = nil
		return nil
	}

	if b[0] == '[' {
		var entries []entry
		if err := json.Unmarshal(b, &entries); err != nil {
			return err
		}
		*d = entries
		return nil
	}

	var c columns
	if err := json.Unmarshal(b, &c); err != nil {
		return err
	}

	n := len(c.Timestamp)
	for name, length := range map[string]int{
		"value":       len(c.Value),
		"platform_id": len(c.PlatformID),
	} {
		if length != n {
			return fmt.Errorf("data column '%s' has %d values, expected %d", name, length, n)
		}
	}
	for name, length := range map[string]int{
		"lat":   len(c.Lat),
		"lon":   len(c.Lon),
		"depth": len(c.Depth),
		"type":  len(c.Type),
	} {
		if length != 0 && length != n {
			return fmt.Errorf("data column '%s' has %d values, expected %d", name, length, n)
		}
	}

	out := make([]entry, n)
	for i := range n {
		out[i] = entry{Timestamp: c.Timestamp[i], Value: c.Value[i], PlatformID: c.PlatformID[i]}
		if len(c.Lat) > 0 {
			out[i].Lat = c.Lat[i]
		}
		if len(c.Lon) > 0 {
			out[i].Lon = c.Lon[i]
		}
		if len(c.Depth) > 0 {
			out[i].Depth = c.Depth[i]
		}
		if len(c.Type) > 0 {
			out[i].Type = c.Type[i]
		}
	}
	*d = out
	return nil
}

// timestamp accepts epoch seconds as an integer, a float or a numeric string
type timestamp int64

func (t *timestamp) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = timestamp(i)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", b)
	}
	*t = timestamp(int64(f))
	return nil
}
