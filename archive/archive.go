package archive

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"buoy_importer/obs"
	"buoy_importer/partition"
	"buoy_importer/qc"
)

// Obs is one archived sample of one variable
type Obs struct {
	// Backyard Buoys location identifier
	LocationID string
	// Spotter identifier
	PlatformID string
	// Time of observation
	ObsTime time.Time
	// Published variable name
	Variable string
	// Observation value, nil when missing
	Value *float64
	// Position of the platform, nil when unknown
	Latitude  *float64
	Longitude *float64
	Depth     float64
	// Aggregate QARTOD flag
	QCAgg int32
	// Digits of the QARTOD tests that were run
	QCTestsRun int32
}

var columns = []string{
	"location_id", "platform_id", "obstime", "variable", "obsvalue",
	"latitude", "longitude", "depth", "qc_agg", "qc_tests_run",
}

// identity of an archived sample, a re-export updates the row in place
var conflictColumns = []string{"location_id", "platform_id", "obstime", "variable"}

// temporary table the samples are copied into before the upsert
var staging = pgx.Identifier{"buoy_obs_staging"}

// beginner is the part of pgxpool.Pool used for the export
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Exporter struct {
	conn  beginner
	table pgx.Identifier
	close func()
}

func NewExporter(ctx context.Context, connString, table string) (*Exporter, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("could not connect to archive: %w", err)
	}
	return &Exporter{conn: pool, table: pgx.Identifier{"public", table}, close: pool.Close}, nil
}

func (e *Exporter) Close() {
	if e.close != nil {
		e.close()
	}
}

func nullable(v float64) *float64 {
	if obs.IsNull(v) {
		return nil
	}
	return &v
}

// Rows flattens a partition into archive rows, skipping missing values
func Rows(p *partition.Partition) []Obs {
	var out []Obs
	for _, name := range p.Table.Variables {
		flags := p.QC[name]
		for i, row := range p.Table.Rows {
			value := row.Value(name)
			if obs.IsNull(value) {
				continue
			}

			agg, testsRun := qc.NotEvaluated, int32(0)
			if flags != nil {
				agg, testsRun = flags.Aggregate[i], flags.TestsRun[i]
			}
			out = append(out, Obs{
				LocationID: p.Key.LocationID,
				PlatformID: row.PlatformID,
				ObsTime:    time.Unix(row.Time, 0).UTC(),
				Variable:   name,
				Value:      &value,
				Latitude:   nullable(row.Latitude),
				Longitude:  nullable(row.Longitude),
				Depth:      row.Depth,
				QCAgg:      int32(agg),
				QCTestsRun: testsRun,
			})
		}
	}
	return out
}

type sampleKey struct {
	platformID string
	obsTime    int64
	variable   string
}

func (o *Obs) key() sampleKey {
	return sampleKey{o.PlatformID, o.ObsTime.Unix(), o.Variable}
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (o *Obs) equal(other *Obs) bool {
	return sameFloat(o.Value, other.Value) &&
		sameFloat(o.Latitude, other.Latitude) &&
		sameFloat(o.Longitude, other.Longitude) &&
		o.Depth == other.Depth &&
		o.QCAgg == other.QCAgg &&
		o.QCTestsRun == other.QCTestsRun
}

// Changed returns the archive rows of current that are new or differ from
// the ones of previous, the stored version of the same partition.
// A nil previous returns every row.
func Changed(current, previous *partition.Partition) []Obs {
	rows := Rows(current)
	if previous == nil {
		return rows
	}

	stored := make(map[sampleKey]Obs)
	for _, o := range Rows(previous) {
		stored[o.key()] = o
	}

	out := make([]Obs, 0, len(rows))
	for _, o := range rows {
		if old, ok := stored[o.key()]; ok && o.equal(&old) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (e *Exporter) upsert() string {
	var set []string
	for _, c := range columns {
		if !slices.Contains(conflictColumns, c) {
			set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		e.table.Sanitize(),
		strings.Join(columns, ", "),
		strings.Join(columns, ", "),
		staging.Sanitize(),
		strings.Join(conflictColumns, ", "),
		strings.Join(set, ", "),
	)
}

// Export writes the new and changed samples of a partition to the archive.
// The rows are bulk copied into a staging table and upserted from there,
// so exporting the same samples twice leaves a single row for each.
func (e *Exporter) Export(ctx context.Context, current, previous *partition.Partition) (n int64, err error) {
	data := Changed(current, previous)
	if len(data) == 0 {
		return 0, nil
	}

	tx, err := e.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: could not archive: %w", current.Key, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staging.Sanitize(), e.table.Sanitize())
	if _, err = tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("%s: could not create staging table: %w", current.Key, err)
	}

	_, err = tx.CopyFrom(
		ctx,
		staging,
		columns,
		pgx.CopyFromSlice(len(data), func(i int) ([]any, error) {
			return []any{
				data[i].LocationID,
				data[i].PlatformID,
				data[i].ObsTime,
				data[i].Variable,
				data[i].Value,
				data[i].Latitude,
				data[i].Longitude,
				data[i].Depth,
				data[i].QCAgg,
				data[i].QCTestsRun,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: could not archive: %w", current.Key, err)
	}

	tag, err := tx.Exec(ctx, e.upsert())
	if err != nil {
		return 0, fmt.Errorf("%s: could not archive: %w", current.Key, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s: could not archive: %w", current.Key, err)
	}

	n = tag.RowsAffected()
	slog.Info(fmt.Sprintf("%s: archived %d new or changed observations", current.Key, n))
	return n, nil
}
