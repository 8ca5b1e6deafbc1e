package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"buoy_importer/bbapi"
	"buoy_importer/metadata"
	"buoy_importer/qc"
)

// sheets reads the sheet exports once per run
func (r *Runner) sheets() ([]metadata.SheetRow, []map[string]string, error) {
	if r.metadataRows == nil {
		rows, err := metadata.ReadMetadataSheet(r.Config.Metadata.MetadataSheet)
		if err != nil {
			return nil, nil, err
		}
		r.metadataRows = rows
	}
	if r.qcRows == nil {
		rows, err := metadata.ReadQCSheet(r.Config.Metadata.QCSheet)
		if err != nil {
			return nil, nil, err
		}
		r.qcRows = rows
	}
	return r.metadataRows, r.qcRows, nil
}

// refreshMetadata regenerates the metadata file of a location from the sheet
// exports. An existing QC limits file is kept unless rebuild is set.
func (r *Runner) refreshMetadata(loc bbapi.Location, rebuild bool) error {
	metadataRows, qcRows, err := r.sheets()
	if err != nil {
		return err
	}

	row, ok := metadata.FindRow(metadataRows, loc.Label)
	if !ok {
		return fmt.Errorf("no metadata sheet row named '%s': %w", loc.Label, metadata.ErrNoMetadata)
	}
	meta, err := row.Build(loc.ID, loc.Label)
	if err != nil {
		return err
	}

	now := r.now()
	dir := r.Config.MetadataDir(loc.ID)
	if err := metadata.Save(dir, meta, now); err != nil {
		return fmt.Errorf("could not save metadata: %w", err)
	}
	slog.Info(fmt.Sprintf("%v - %v: metadata written", RefreshMetadata, loc.ID))

	if _, err := qc.ReadLimitsFile(metadata.LimitsPath(dir, loc.ID)); err == nil && !rebuild {
		return nil
	}

	limits, err := metadata.BuildLimits(qcRows, loc.ID, now)
	if err != nil {
		return err
	}
	if err := metadata.SaveLimits(dir, limits, now); err != nil {
		return fmt.Errorf("could not save QC limits: %w", err)
	}
	slog.Info(fmt.Sprintf("%v - %v: QC limits written, default limits used: %v", RefreshMetadata, loc.ID, limits.DefaultLimitsUsed))
	return nil
}

// refreshWMO rewrites every stored partition with the current WMO code
func (r *Runner) refreshWMO(loc bbapi.Location) error {
	meta, err := metadata.Load(r.Config.MetadataDir(loc.ID), loc.ID)
	if err != nil {
		return err
	}

	var result *multierror.Error
	rewritten := 0
	for _, smart := range []bool{false, true} {
		keys, err := r.Store.List(loc.ID, smart)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		for _, key := range keys {
			p, err := r.Store.Load(key)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if p.Attributes == nil {
				p.Attributes = make(map[string]string)
			}
			if p.Attributes["wmo_platform_code"] == meta.WMOCode {
				continue
			}

			p.Attributes["wmo_platform_code"] = meta.WMOCode
			p.Attributes["id"] = meta.WMOCode
			if _, err := r.Store.Write(p); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			rewritten++
		}
	}

	slog.Info(fmt.Sprintf("%v - %v: %d partition(s) updated to WMO code '%s'", RefreshWMO, loc.ID, rewritten, meta.WMOCode))
	return result.ErrorOrNil()
}
