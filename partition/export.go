package partition

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"buoy_importer/qc"
)

// CSVPath is the path of the wide CSV companion of a partition
func (s *Store) CSVPath(key Key) string {
	return filepath.Join(s.Dir(key.LocationID), "csv", strings.TrimSuffix(key.FileName(), ".parquet")+".csv")
}

func flagColumn(flags []qc.Flag, name string) series.Series {
	out := make([]int, len(flags))
	for i, f := range flags {
		out[i] = int(f)
	}
	return series.New(out, series.Int, name)
}

// Frame builds the wide view of a partition: time, platform, coordinates,
// then every variable followed by its five QC companions
func Frame(p *Partition) dataframe.DataFrame {
	n := p.Len()
	times := make([]int, n)
	platforms := make([]string, n)
	lats := make([]float64, n)
	lons := make([]float64, n)
	for i, row := range p.Table.Rows {
		times[i] = int(row.Time)
		platforms[i] = row.PlatformID
		lats[i] = row.Latitude
		lons[i] = row.Longitude
	}

	columns := []series.Series{
		series.New(times, series.Int, "time"),
		series.New(platforms, series.String, "platform_id"),
		series.New(lats, series.Float, "latitude"),
		series.New(lons, series.Float, "longitude"),
	}

	for _, name := range p.Table.Variables {
		columns = append(columns, series.New(p.Table.Column(name), series.Float, name))

		c, ok := p.QC[name]
		if !ok {
			c = NotEvaluated(n)
		}
		columns = append(columns,
			flagColumn(c.Aggregate, name+"_qc_agg"),
			flagColumn(c.GrossRange, name+"_qc_gross_range_test"),
			flagColumn(c.RateOfChange, name+"_qc_rate_of_change_test"),
			flagColumn(c.Spike, name+"_qc_spike_test"),
			flagColumn(c.FlatLine, name+"_qc_flat_line_test"),
		)
	}
	return dataframe.New(columns...)
}

// ExportCSV writes the wide CSV companion of a partition
func (s *Store) ExportCSV(p *Partition) error {
	df := Frame(p)
	if df.Err != nil {
		return df.Err
	}

	buf := new(bytes.Buffer)
	if err := df.WriteCSV(buf); err != nil {
		return err
	}
	return atomicWrite(s.CSVPath(p.Key), buf.Bytes())
}
