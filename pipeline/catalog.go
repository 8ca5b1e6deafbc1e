package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"buoy_importer/bbapi"
	"buoy_importer/catalog"
	"buoy_importer/metadata"
	"buoy_importer/obs"
	"buoy_importer/partition"
)

// refreshCatalog adds or updates the catalog entries of the given locations.
// Locations without metadata are left out, smart mooring datasets are only
// listed once partitions exist for them.
func (r *Runner) refreshCatalog(locations []bbapi.Location) error {
	path := r.Config.Catalog.Path
	c, err := catalog.Load(path)
	if err != nil {
		return err
	}

	added := 0
	for _, loc := range locations {
		meta, err := metadata.Load(r.Config.MetadataDir(loc.ID), loc.ID)
		if err != nil {
			slog.Warn(fmt.Sprintf("%v - %v: not in catalog, %s", RefreshCatalog, loc.ID, err))
			continue
		}

		for _, smart := range []bool{false, true} {
			variables := names(obs.SurfaceVariables)
			if smart {
				keys, err := r.Store.List(loc.ID, true)
				if err != nil || len(keys) == 0 {
					continue
				}
				variables = names(obs.SubsurfaceVariables)
			}
			if c.Upsert(r.dataset(meta, smart, variables)) {
				added++
			}
		}
	}

	if err := c.Save(path); err != nil {
		return fmt.Errorf("could not write catalog '%s': %w", path, err)
	}
	slog.Info(fmt.Sprintf("%v: %d dataset(s) in catalog, %d new", RefreshCatalog, len(c.Datasets), added))
	return nil
}

func (r *Runner) dataset(meta *metadata.Location, smart bool, variables []string) catalog.Dataset {
	id := partition.DatasetID(meta.LocationID, smart)
	title := "backyardbuoys_" + meta.LocationID
	if smart {
		title += "_smart"
	}

	d := catalog.Dataset{
		ID:           id,
		LocationID:   meta.LocationID,
		LocationName: meta.LocationName,
		Title:        title,
		FileDir:      r.Store.Dir(meta.LocationID),
		FileRegex:    partition.FileRegex(meta.LocationID, smart),
		Smart:        smart,
		WMOCode:      meta.WMOCode,
		Variables:    variables,
	}
	if r.Config.Catalog.ServerURL != "" {
		d.URL = strings.TrimRight(r.Config.Catalog.ServerURL, "/") + "/tabledap/" + id + ".html"
	}
	return d
}
