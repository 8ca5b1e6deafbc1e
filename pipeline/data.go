package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"buoy_importer/bbapi"
	"buoy_importer/merge"
	"buoy_importer/metadata"
	"buoy_importer/metrics"
	"buoy_importer/obs"
	"buoy_importer/partition"
	"buoy_importer/qc"
)

// variant is one of the two independently merged series of a location
type variant struct {
	smart     bool
	variables []string
	loaded    *partition.Partition
	since     time.Time
}

func names(variables []obs.Variable) []string {
	out := make([]string, len(variables))
	for i, v := range variables {
		out[i] = v.Name
	}
	return out
}

func (r *Runner) refreshData(ctx context.Context, loc bbapi.Location, opts Options) error {
	prefix := fmt.Sprintf("%v - %v", opts.Process, loc.ID)
	dir := r.Config.MetadataDir(loc.ID)

	regenerated := false
	if !metadata.Exists(dir, loc.ID) {
		slog.Info(fmt.Sprintf("%s: no metadata, trying to generate it", prefix))
		if err := r.refreshMetadata(loc, false); err != nil {
			return fmt.Errorf("could not bootstrap metadata: %w", err)
		}
		if err := r.refreshCatalog([]bbapi.Location{loc}); err != nil {
			slog.Warn(fmt.Sprintf("%s: could not add to catalog, %s", prefix, err))
		}
		regenerated = true
	}

	meta, overrides, usedDefault, err := loadMetadata(dir, loc.ID)
	if err != nil && !regenerated {
		slog.Warn(fmt.Sprintf("%s: %s, regenerating the metadata", prefix, err))
		if err := r.refreshMetadata(loc, true); err != nil {
			return fmt.Errorf("could not regenerate metadata: %w", err)
		}
		meta, overrides, usedDefault, err = loadMetadata(dir, loc.ID)
	}
	if err != nil {
		return err
	}
	if usedDefault {
		slog.Info(fmt.Sprintf("%s: using the default QC limits", prefix))
	}

	r.Store.CleanTemporary(loc.ID)

	variants := []*variant{
		{smart: false, variables: names(obs.SurfaceVariables)},
		{smart: true, variables: names(obs.SubsurfaceVariables)},
	}

	// fetch once from the earliest point a stored variant needs,
	// the whole history when nothing is stored yet
	var since time.Time
	for _, v := range variants {
		if err := r.loadVariant(prefix, loc.ID, v, opts.Rebuild); err != nil {
			return err
		}
		if v.loaded != nil && (since.IsZero() || v.since.Before(since)) {
			since = v.since
		}
	}

	observations, err := r.fetch(ctx, prefix, loc.ID, since)
	if err != nil {
		return err
	}
	surface, smart := splitSurface(observations)

	// a series seen for the first time gets its whole history, the
	// incremental window only covers what the stored series needs
	if !since.IsZero() {
		for _, v := range variants {
			if v.loaded != nil || len(v.pick(surface, smart)) == 0 {
				continue
			}
			slog.Info(fmt.Sprintf("%s: first %s samples, fetching the whole history", prefix, metrics.Variant(v.smart)))
			all, err := r.fetch(ctx, prefix, loc.ID, time.Time{})
			if err != nil {
				return err
			}
			allSurface, allSmart := splitSurface(all)
			if v.smart {
				smart = allSmart
			} else {
				surface = allSurface
			}
		}
	}

	var result *multierror.Error
	for _, v := range variants {
		if err := r.mergeVariant(ctx, prefix, loc.ID, meta, overrides, v, v.pick(surface, smart)); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if opts.RerunQC {
		for _, smart := range []bool{false, true} {
			if err := r.rerunQC(ctx, prefix, loc.ID, meta, overrides, smart); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// loadMetadata reads the metadata and QC limits files of a location
func loadMetadata(dir, locationID string) (*metadata.Location, qc.Overrides, bool, error) {
	meta, err := metadata.Load(dir, locationID)
	if err != nil {
		return nil, nil, false, err
	}
	overrides, usedDefault, err := metadata.LoadOverrides(dir, locationID)
	if err != nil {
		return nil, nil, false, err
	}
	return meta, overrides, usedDefault, nil
}

// fetch returns the observations since the given time, none when the
// location has nothing new
func (r *Runner) fetch(ctx context.Context, prefix, locationID string, since time.Time) ([]obs.Observation, error) {
	observations, err := r.Source.LocationData(ctx, locationID, since)
	if skippable(err) {
		slog.Info(fmt.Sprintf("%s: no new observations since %s", prefix, since.Format(time.RFC3339)))
		return nil, nil
	}
	return observations, err
}

func splitSurface(observations []obs.Observation) (surface, smart []obs.Observation) {
	for _, o := range observations {
		if o.Surface() {
			surface = append(surface, o)
		} else {
			smart = append(smart, o)
		}
	}
	return surface, smart
}

func (v *variant) pick(surface, smart []obs.Observation) []obs.Observation {
	if v.smart {
		return smart
	}
	return surface
}

// loadVariant picks the partition to merge into and the start of the fetch window
func (r *Runner) loadVariant(prefix, locationID string, v *variant, rebuild bool) error {
	if rebuild {
		return nil
	}

	p, latest, err := r.Store.Latest(locationID, v.smart)
	if errors.Is(err, partition.ErrNoPartition) {
		return nil
	}
	if err != nil {
		return err
	}

	first, last := time.Unix(p.Table.First(), 0), time.Unix(p.Table.Last(), 0)
	v.loaded = p
	v.since = merge.PullSince(first, last, latest, r.Config.Lookback, r.Config.StaleShift)
	slog.Info(fmt.Sprintf("%s: loaded %v with %d rows, fetching since %s",
		prefix, p.Key, p.Len(), v.since.Format(time.RFC3339)))
	return nil
}

func (r *Runner) mergeVariant(
	ctx context.Context,
	prefix, locationID string,
	meta *metadata.Location,
	overrides qc.Overrides,
	v *variant,
	incoming []obs.Observation,
) error {
	var existing *merge.Table
	if v.loaded != nil {
		existing = v.loaded.Table
	}

	if len(incoming) == 0 {
		// smart mooring partitions only exist once there is subsurface data
		if existing.Empty() {
			return nil
		}
		slog.Info(fmt.Sprintf("%s: nothing new for the %s series", prefix, metrics.Variant(v.smart)))
		return nil
	}

	merged, report := merge.Merge(existing, merge.FromObservations(locationID, v.variables, incoming))
	slog.Info(fmt.Sprintf("%s: %s series merged, %d existing, %d matched, %d appended, %d dropped",
		prefix, metrics.Variant(v.smart), report.Existing, report.Matched, report.Appended, report.Dropped))

	metrics.RowsMergedTotal.WithLabelValues("matched").Add(float64(report.Matched))
	metrics.RowsMergedTotal.WithLabelValues("appended").Add(float64(report.Appended))
	metrics.RowsMergedTotal.WithLabelValues("dropped").Add(float64(report.Dropped))
	metrics.DuplicatesTotal.Add(float64(report.Dedup.Duplicates))
	if report.Dedup.Anomaly {
		metrics.AnomaliesTotal.Inc()
	}

	if merged.Empty() {
		return nil
	}

	history := r.history(prefix, locationID, v.smart, merged.First(), contextSpan(merged.Variables, overrides))
	columns := evaluate(prefix, history, merged, overrides)
	return r.publish(ctx, prefix, meta, partition.Split(merged, columns, v.smart), v.loaded, true)
}

// contextSpan is how far back the tests of the given variables look
// before a sample: the longest flat line window
func contextSpan(variables []string, overrides qc.Overrides) time.Duration {
	var span time.Duration
	for _, name := range variables {
		limits, err := qc.Resolve(obs.Lookup(name), overrides)
		if err != nil || limits.FlatLine == nil {
			continue
		}
		span = max(span, limits.FlatLine.Suspect, limits.FlatLine.Fail)
	}
	return span
}

// history returns the stored rows preceding before that the tests need to
// evaluate the first samples of a series the same way they were evaluated
// when the older rows were fetched: the rows within span, plus one more.
func (r *Runner) history(prefix, locationID string, smart bool, before int64, span time.Duration) *merge.Table {
	out := merge.NewTable(locationID, nil)
	keys, err := r.Store.List(locationID, smart)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s: no QC history, %s", prefix, err))
		return out
	}

	cutoff := before - int64(span.Seconds())
	start := time.Unix(before, 0)
	var rows []merge.Row
	for i := len(keys) - 1; i >= 0; i-- {
		if !keys[i].Start().Before(start) {
			continue
		}
		p, err := r.Store.Load(keys[i])
		if err != nil {
			slog.Warn(fmt.Sprintf("%s: skipping unreadable partition in QC history, %s", prefix, err))
			continue
		}
		older := p.Table.Filter(func(row *merge.Row) bool { return row.Time < before })
		rows = append(older.Rows, rows...)
		if len(rows) > 0 && rows[0].Time < cutoff {
			break
		}
	}

	first := sort.Search(len(rows), func(i int) bool { return rows[i].Time >= cutoff })
	if first > 0 {
		first--
	}
	out.Rows = rows[first:]
	return out
}

// evaluate runs the QC tests of every variable of the table.
// The history rows precede the table and are only used as context,
// the returned columns are aligned with the table rows.
func evaluate(prefix string, history, table *merge.Table, overrides qc.Overrides) map[string]*partition.QCColumns {
	columns := make(map[string]*partition.QCColumns, len(table.Variables))

	series, skip := table, history.Len()
	if skip > 0 {
		series = merge.NewTable(table.LocationID, table.Variables)
		series.Rows = append(slices.Clip(history.Rows), table.Rows...)
	}
	times := series.Times()

	for _, name := range table.Variables {
		v := obs.Lookup(name)
		limits, err := qc.Resolve(v, overrides)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s: %s not evaluated, %s", prefix, name, err))
			columns[name] = partition.NotEvaluated(table.Len())
			continue
		}
		if limits.Empty() {
			columns[name] = partition.NotEvaluated(table.Len())
			continue
		}

		result := qc.EvaluateVariable(v, qc.Series{Times: times, Values: series.Column(name)}, limits)
		if result.Degenerate {
			slog.Warn(fmt.Sprintf("%s: %s has no valid samples, flagged as missing", prefix, name))
		}
		columns[name] = partition.FromResult(&result).Slice(skip, series.Len())
	}
	return columns
}

// publish attaches the global attributes and writes the partitions.
// When archive is set, the samples that are new or changed compared to
// previous, the stored version of one of the partitions, are also copied
// to the archive.
func (r *Runner) publish(
	ctx context.Context,
	prefix string,
	meta *metadata.Location,
	partitions []*partition.Partition,
	previous *partition.Partition,
	archive bool,
) error {
	for _, p := range partitions {
		p.Attributes = metadata.GlobalAttributes(meta, p.Table, r.now())
	}

	var result *multierror.Error
	for _, p := range partitions {
		ok, err := r.Store.Write(p)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !ok {
			continue
		}
		metrics.PartitionsWrittenTotal.WithLabelValues(metrics.Variant(p.Key.Smart)).Inc()
		slog.Info(fmt.Sprintf("%s: wrote %v with %d rows", prefix, p.Key, p.Len()))

		if archive && r.Archive != nil {
			var stored *partition.Partition
			if previous != nil && previous.Key == p.Key {
				stored = previous
			}
			n, err := r.Archive.Export(ctx, p, stored)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			metrics.ArchivedRowsTotal.Add(float64(n))
		}
	}
	return result.ErrorOrNil()
}

// rerunQC re-evaluates every stored partition of a variant with the current limits.
// The stored partitions are evaluated as one series so that the first and last
// samples of a month keep their neighbours. The data is left unchanged.
func (r *Runner) rerunQC(
	ctx context.Context,
	prefix, locationID string,
	meta *metadata.Location,
	overrides qc.Overrides,
	smart bool,
) error {
	keys, err := r.Store.List(locationID, smart)
	if err != nil {
		return err
	}

	var result *multierror.Error
	var series *merge.Table
	for _, key := range keys {
		p, err := r.Store.Load(key)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if series == nil {
			series = merge.NewTable(locationID, p.Table.Variables)
		}
		for _, name := range p.Table.Variables {
			series.AddVariable(name)
		}
		series.Rows = append(series.Rows, p.Table.Rows...)
	}
	if series.Empty() {
		return result.ErrorOrNil()
	}

	partitions := partition.Split(series, evaluate(prefix, nil, series, overrides), smart)
	slog.Info(fmt.Sprintf("%s: rerunning QC on %d %s partition(s)", prefix, len(partitions), metrics.Variant(smart)))
	if err := r.publish(ctx, prefix, meta, partitions, nil, false); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
