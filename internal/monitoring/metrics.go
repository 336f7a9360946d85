package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SightingsIngested counts ingestion attempts by result
	// ("inserted", "malformed", "storage_error").
	SightingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackwatch",
			Name:      "sightings_ingested_total",
			Help:      "Sightings offered to the event log, by result.",
		},
		[]string{"result"},
	)

	// RiskEvaluations counts evaluate calls by outcome
	// ("cache_hit", "recomputed", "error").
	RiskEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackwatch",
			Name:      "risk_evaluations_total",
			Help:      "Risk evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	// RiskRecomputeDuration observes the cost of a cache miss.
	RiskRecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trackwatch",
			Name:      "risk_recompute_duration_seconds",
			Help:      "Time spent recomputing a device's risk level.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	// TrackingDevices is the size of the last published active-tracking set.
	TrackingDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trackwatch",
			Name:      "tracking_devices",
			Help:      "Devices currently classified as tracking (not ignored).",
		},
	)

	// ScannerLines counts lines read from the sighting feed by result
	// ("parsed", "rejected", "skipped").
	ScannerLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackwatch",
			Name:      "scanner_lines_total",
			Help:      "Lines read from the sighting feed, by parse result.",
		},
		[]string{"result"},
	)

	// ObserverSubscriptions tracks live SSE/WebSocket observers.
	ObserverSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trackwatch",
			Name:      "observer_subscriptions",
			Help:      "Connected streaming observers.",
		},
	)
)

// Collectors returns every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SightingsIngested,
		RiskEvaluations,
		RiskRecomputeDuration,
		TrackingDevices,
		ScannerLines,
		ObserverSubscriptions,
	}
}

// Register registers all collectors with reg. Collectors that are already
// registered are skipped so repeated calls (tests, reloads) are harmless.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
