// Package metrics holds the core's in-process Prometheus counters. They
// are never exposed over HTTP: the Non-goals explicitly exclude an API or
// visualization layer, so cmd/latrace logs Snapshot's values at exit
// instead of serving /metrics.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ParseWarnings counts non-fatal normalize.Warning occurrences.
	ParseWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latrace",
		Subsystem: "normalize",
		Name:      "parse_warnings_total",
		Help:      "Number of non-fatal line-parsing warnings encountered.",
	})

	// OrphanRecords counts records never attached to any journey.
	OrphanRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latrace",
		Subsystem: "journey",
		Name:      "orphan_records_total",
		Help:      "Number of records never attached to any journey.",
	})

	// JourneysCompleted counts journeys that reached a sink.
	JourneysCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latrace",
		Subsystem: "journey",
		Name:      "completed_total",
		Help:      "Number of journeys that completed, by direction.",
	}, []string{"direction"})

	// JourneysAbandoned counts journeys that exhausted the forward window
	// without completing and were dropped.
	JourneysAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latrace",
		Subsystem: "journey",
		Name:      "abandoned_total",
		Help:      "Number of journeys dropped for never completing within the forward window.",
	})

	// ForksMaterialized counts fork-sibling journeys created.
	ForksMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latrace",
		Subsystem: "journey",
		Name:      "forks_materialized_total",
		Help:      "Number of fork-sibling journeys materialized from segmentation.",
	})
)

// Snapshot is a point-in-time read of the counters above, suitable for a
// single structured log line at CLI exit.
type Snapshot struct {
	ParseWarnings     float64
	OrphanRecords     float64
	JourneysCompleted float64
	JourneysAbandoned float64
	ForksMaterialized float64
}

// Read gathers the current counter values.
func Read() Snapshot {
	metricChan := make(chan prometheus.Metric, 8)
	JourneysCompleted.Collect(metricChan)
	close(metricChan)
	var completed float64
	for m := range metricChan {
		var pb dto.Metric
		if err := m.Write(&pb); err == nil {
			completed += pb.GetCounter().GetValue()
		}
	}

	return Snapshot{
		ParseWarnings:     readCounter(ParseWarnings),
		OrphanRecords:     readCounter(OrphanRecords),
		JourneysCompleted: completed,
		JourneysAbandoned: readCounter(JourneysAbandoned),
		ForksMaterialized: readCounter(ForksMaterialized),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
