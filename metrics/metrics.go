package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const BuoyNamespace = "backyardbuoys"

// Registry holds the metrics of one batch run, it is what gets pushed
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	LocationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name:      "locations_total",
		Namespace: BuoyNamespace,
		Help:      "Locations handled in this run, by process and outcome.",
	}, []string{"process", "status"})

	RowsMergedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name:      "rows_merged_total",
		Namespace: BuoyNamespace,
		Help:      "Rows in the merged tables, by merge outcome.",
	}, []string{"outcome"})

	DuplicatesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name:      "duplicate_rows_total",
		Namespace: BuoyNamespace,
		Help:      "Rows removed by timestamp deduplication.",
	})

	AnomaliesTotal = factory.NewCounter(prometheus.CounterOpts{
		Name:      "dedup_anomalies_total",
		Namespace: BuoyNamespace,
		Help:      "Deduplications whose surviving row count did not match the distinct timestamps.",
	})

	PartitionsWrittenTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name:      "partitions_written_total",
		Namespace: BuoyNamespace,
		Help:      "Partition files written, by variant.",
	}, []string{"variant"})

	ArchivedRowsTotal = factory.NewCounter(prometheus.CounterOpts{
		Name:      "archived_rows_total",
		Namespace: BuoyNamespace,
		Help:      "Observations copied to the archive database.",
	})

	RunDurationSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name:      "run_duration_seconds",
		Namespace: BuoyNamespace,
		Help:      "Wall time of the last run.",
	})
)

func Variant(smart bool) string {
	if smart {
		return "smart"
	}
	return "surface"
}

// Push sends the run metrics to a Pushgateway, a no-op without a gateway
func Push(ctx context.Context, gateway, job string) error {
	if gateway == "" {
		return nil
	}
	err := push.New(gateway, job).Gatherer(Registry).PushContext(ctx)
	if err != nil {
		return fmt.Errorf("could not push metrics to '%s': %w", gateway, err)
	}
	slog.Info(fmt.Sprintf("Pushed metrics to %s", gateway))
	return nil
}
