package partition

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"buoy_importer/merge"
	"buoy_importer/obs"
	"buoy_importer/qc"
)

// Record is one stored sample of one variable with its QC companions
type Record struct {
	LocationID     string   `parquet:"name=location_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time           int64    `parquet:"name=time, type=INT64"`
	PlatformID     string   `parquet:"name=platform_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Latitude       *float64 `parquet:"name=latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Longitude      *float64 `parquet:"name=longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	Depth          *float64 `parquet:"name=depth, type=DOUBLE, repetitiontype=OPTIONAL"`
	Variable       string   `parquet:"name=variable, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value          *float64 `parquet:"name=value, type=DOUBLE, repetitiontype=OPTIONAL"`
	QCAgg          int32    `parquet:"name=qc_agg, type=INT32"`
	QCGrossRange   int32    `parquet:"name=qc_gross_range_test, type=INT32"`
	QCRateOfChange int32    `parquet:"name=qc_rate_of_change_test, type=INT32"`
	QCSpike        int32    `parquet:"name=qc_spike_test, type=INT32"`
	QCFlatLine     int32    `parquet:"name=qc_flat_line_test, type=INT32"`
	QCTestsRun     int32    `parquet:"name=qc_tests_run, type=INT32"`
}

// footer keys reserved for the codec itself
const (
	variablesKey = "bb_variables"
)

func nullable(v float64) *float64 {
	if obs.IsNull(v) {
		return nil
	}
	return &v
}

func value(p *float64) float64 {
	if p == nil {
		return obs.Null()
	}
	return *p
}

// records flattens a partition into one record per row per variable
func records(p *Partition) []Record {
	out := make([]Record, 0, p.Len()*len(p.Table.Variables))
	if p.QC == nil {
		p.QC = make(map[string]*QCColumns)
	}
	for i, row := range p.Table.Rows {
		for _, name := range p.Table.Variables {
			rec := Record{
				LocationID: p.Table.LocationID,
				Time:       row.Time,
				PlatformID: row.PlatformID,
				Latitude:   nullable(row.Latitude),
				Longitude:  nullable(row.Longitude),
				Depth:      nullable(row.Depth),
				Variable:   name,
				Value:      nullable(row.Value(name)),
			}

			c, ok := p.QC[name]
			if !ok {
				c = NotEvaluated(p.Len())
				p.QC[name] = c
			}
			rec.QCAgg = int32(c.Aggregate[i])
			rec.QCGrossRange = int32(c.GrossRange[i])
			rec.QCRateOfChange = int32(c.RateOfChange[i])
			rec.QCSpike = int32(c.Spike[i])
			rec.QCFlatLine = int32(c.FlatLine[i])
			rec.QCTestsRun = c.TestsRun[i]

			out = append(out, rec)
		}
	}
	return out
}

// encode renders the partition as a parquet file
func encode(p *Partition, codec parquet.CompressionCodec) (b []byte, err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(Record), 4)
	if err != nil {
		return nil, fmt.Errorf("could not create parquet writer: %w", err)
	}
	pw.CompressionType = codec

	for _, rec := range records(p) {
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("could not write record: %w", err)
		}
	}

	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	variables := strings.Join(p.Table.Variables, ",")
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: variablesKey, Value: &variables})
	for _, k := range keys {
		v := p.Attributes[k]
		pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: k, Value: &v})
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked while finalising: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("could not finalise parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

// decode reads a partition file back into a table, its QC columns and attributes
func decode(path string, key Key) (*Partition, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Record), 4)
	if err != nil {
		return nil, fmt.Errorf("could not read parquet file '%s': %w", path, err)
	}
	defer pr.ReadStop()

	recs := make([]Record, int(pr.GetNumRows()))
	if len(recs) > 0 {
		if err := pr.Read(&recs); err != nil {
			return nil, fmt.Errorf("could not read records of '%s': %w", path, err)
		}
	}

	attrs := make(map[string]string)
	var variables []string
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Value == nil {
			continue
		}
		if kv.Key == variablesKey {
			if *kv.Value != "" {
				variables = strings.Split(*kv.Value, ",")
			}
			continue
		}
		attrs[kv.Key] = *kv.Value
	}

	return fromRecords(key, variables, recs, attrs), nil
}

// fromRecords regroups stored records into rows, keeping file order
func fromRecords(key Key, variables []string, recs []Record, attrs map[string]string) *Partition {
	table := merge.NewTable(key.LocationID, variables)
	type flags struct {
		agg, gross, roc, spike, flat qc.Flag
		run                          int32
	}
	stored := make(map[string][]flags)
	index := make(map[obs.Key]int)

	for _, rec := range recs {
		table.AddVariable(rec.Variable)

		k := obs.Key{Timestamp: rec.Time, PlatformID: rec.PlatformID}
		i, ok := index[k]
		if !ok {
			i = len(table.Rows)
			index[k] = i
			table.Rows = append(table.Rows, merge.Row{
				Time:       rec.Time,
				PlatformID: rec.PlatformID,
				Latitude:   value(rec.Latitude),
				Longitude:  value(rec.Longitude),
				Depth:      value(rec.Depth),
				Values:     make(map[string]float64),
			})
		}
		table.Rows[i].Values[rec.Variable] = value(rec.Value)

		column := stored[rec.Variable]
		for len(column) <= i {
			column = append(column, flags{qc.NotEvaluated, qc.NotEvaluated, qc.NotEvaluated, qc.NotEvaluated, qc.NotEvaluated, 0})
		}
		column[i] = flags{
			qc.Flag(rec.QCAgg), qc.Flag(rec.QCGrossRange), qc.Flag(rec.QCRateOfChange),
			qc.Flag(rec.QCSpike), qc.Flag(rec.QCFlatLine), rec.QCTestsRun,
		}
		stored[rec.Variable] = column
	}

	p := &Partition{Key: key, Table: table, QC: make(map[string]*QCColumns), Attributes: attrs}
	for _, name := range table.Variables {
		c := NotEvaluated(table.Len())
		for i, f := range stored[name] {
			c.Aggregate[i] = f.agg
			c.GrossRange[i] = f.gross
			c.RateOfChange[i] = f.roc
			c.Spike[i] = f.spike
			c.FlatLine[i] = f.flat
			c.TestsRun[i] = f.run
		}
		p.QC[name] = c
	}
	return p
}

// compressionCodec maps a configured compression name to the parquet codec
func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	}
	return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported compression type '%s'", name)
}
