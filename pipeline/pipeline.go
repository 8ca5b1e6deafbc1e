package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"buoy_importer/bbapi"
	"buoy_importer/config"
	"buoy_importer/metadata"
	"buoy_importer/metrics"
	"buoy_importer/obs"
	"buoy_importer/partition"
	"buoy_importer/utils"
)

const (
	RefreshData     = "refresh-data"
	RefreshCatalog  = "refresh-catalog"
	RefreshMetadata = "refresh-metadata"
	RefreshWMO      = "refresh-wmo"
)

var Processes = []string{RefreshData, RefreshCatalog, RefreshMetadata, RefreshWMO}

// Source is the upstream location and observation API
type Source interface {
	Locations(ctx context.Context) ([]bbapi.Location, error)
	LocationData(ctx context.Context, locationID string, since time.Time) ([]obs.Observation, error)
}

// Archiver receives every written partition with its previously stored
// version, nil when there was none. See archive.Exporter.
type Archiver interface {
	Export(ctx context.Context, current, previous *partition.Partition) (int64, error)
}

type Options struct {
	Process string
	// Location ids to process, nil means every location
	Locations []string
	Rebuild   bool
	RerunQC   bool
	LogFile   bool
}

type Runner struct {
	Config  *config.Config
	Source  Source
	Store   *partition.Store
	Archive Archiver
	Mailer  *utils.Mailer
	Now     func() time.Time

	metadataRows []metadata.SheetRow
	qcRows       []map[string]string
}

func NewRunner(cfg *config.Config, source Source, mailer *utils.Mailer) (*Runner, error) {
	store, err := partition.NewStore(cfg.BaseDir, cfg.Partition.Compression, cfg.Partition.CSVExport)
	if err != nil {
		return nil, err
	}
	return &Runner{Config: cfg, Source: source, Store: store, Mailer: mailer, Now: time.Now}, nil
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// selectLocations filters the API locations by the requested ids.
// Without --rebuild, refresh-data only handles active locations.
func (r *Runner) selectLocations(all []bbapi.Location, opts Options) []bbapi.Location {
	ids := make([]string, len(all))
	byID := make(map[string]bbapi.Location, len(all))
	for i, loc := range all {
		ids[i] = loc.ID
		byID[loc.ID] = loc
	}

	var out []bbapi.Location
	for _, id := range utils.FilterSlice(opts.Locations, ids, "Location '%v' is not known to the API, skipping") {
		loc := byID[id]
		if opts.Process == RefreshData && !opts.Rebuild && !loc.Active() {
			slog.Info(fmt.Sprintf("%v - %v: location is %s, skipping", opts.Process, id, loc.Status))
			continue
		}
		out = append(out, loc)
	}
	return out
}

// Run executes a process over the selected locations. A failing location
// does not stop the batch; every failure is collected in the returned error.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	start := time.Now()
	defer func() { metrics.RunDurationSeconds.Set(time.Since(start).Seconds()) }()

	all, err := r.Source.Locations(ctx)
	if err != nil {
		return fmt.Errorf("could not list locations: %w", err)
	}
	locations := r.selectLocations(all, opts)
	slog.Info(fmt.Sprintf("%v: processing %d location(s)", opts.Process, len(locations)))

	if opts.Process == RefreshCatalog {
		err := r.refreshCatalog(locations)
		r.count(opts.Process, err)
		return err
	}

	var result *multierror.Error
	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}

		err := r.runLocation(ctx, loc, opts)
		r.count(opts.Process, err)
		if err != nil {
			slog.Error(fmt.Sprintf("%v - %v: %s", opts.Process, loc.ID, err))
			r.Mailer.SendEmail(
				fmt.Sprintf("Backyard Buoys %s failed for %s", opts.Process, loc.ID),
				err.Error(),
			)
			result = multierror.Append(result, fmt.Errorf("%s: %w", loc.ID, err))
		}
	}
	return result.ErrorOrNil()
}

func (r *Runner) count(process string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.LocationsTotal.WithLabelValues(process, status).Inc()
}

func (r *Runner) runLocation(ctx context.Context, loc bbapi.Location, opts Options) error {
	defer r.Mailer.SendEmailOnPanic(fmt.Sprintf("%s for %s", opts.Process, loc.ID))

	if opts.LogFile {
		reset := utils.SetLogFile(loc.ID, opts.Process)
		defer reset()
	}

	switch opts.Process {
	case RefreshData:
		return r.refreshData(ctx, loc, opts)
	case RefreshMetadata:
		return r.refreshMetadata(loc, opts.Rebuild)
	case RefreshWMO:
		return r.refreshWMO(loc)
	}
	return fmt.Errorf("unknown process '%s'", opts.Process)
}

// skippable errors end the work on a location without failing the batch
func skippable(err error) bool {
	return errors.Is(err, bbapi.ErrNoData)
}
