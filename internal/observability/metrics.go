package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crisis_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the aggregation service.
type Metrics struct {
	AggregationRuns     *prometheus.CounterVec // labels: outcome={success,failure}
	AggregationDuration prometheus.Histogram
	RowsExtracted       *prometheus.CounterVec // labels: dataset
	RowsSkipped         *prometheus.CounterVec // labels: dataset, reason
	RecordsRejected     *prometheus.CounterVec // labels: reason
	ValuesClamped       *prometheus.CounterVec // labels: dataset
	CountryResolutions  *prometheus.CounterVec // labels: source={index,geocoder,unresolved,failed}

	// Snapshot contents.
	SnapshotRecords   prometheus.Gauge
	SnapshotCountries prometheus.Gauge
	SnapshotCrises    prometheus.Gauge
	SnapshotTimestamp prometheus.Gauge
	Anomalies         *prometheus.GaugeVec // labels: metric, severity
	CohortSize        *prometheus.GaugeVec // labels: metric

	// Kafka publishing.
	RecordsPublished prometheus.Counter
	PublishErrors    prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		AggregationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_runs_total",
			Help:      "Aggregation runs by outcome.",
		}, []string{"outcome"}),
		AggregationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of a complete extract, score and snapshot cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RowsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_extracted_total",
			Help:      "Source rows read, by dataset.",
		}, []string{"dataset"}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Source rows skipped, by dataset and reason.",
		}, []string{"dataset", "reason"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Country-crisis records rejected during construction.",
		}, []string{"reason"}),
		ValuesClamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_clamped_total",
			Help:      "Negative source values replaced by zero, by dataset.",
		}, []string{"dataset"}),
		CountryResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "country_resolutions_total",
			Help:      "Pooled-fund country name resolutions by source.",
		}, []string{"source"}),
		SnapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Country-crisis records in the current snapshot.",
		}),
		SnapshotCountries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_countries",
			Help:      "Distinct countries in the current snapshot.",
		}),
		SnapshotCrises: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_crises",
			Help:      "Crises in the current snapshot.",
		}),
		SnapshotTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_generated_timestamp_seconds",
			Help:      "Unix time the current snapshot was generated.",
		}),
		Anomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomalies",
			Help:      "Countries flagged in the current snapshot, by metric and severity.",
		}, []string{"metric", "severity"}),
		CohortSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cohort_size",
			Help:      "Countries eligible for each detector metric.",
		}, []string{"metric"}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Records written to the sink topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_publish_errors_total",
			Help:      "Snapshots that failed to publish.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when country-name geocoding is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AggregationRuns,
		m.AggregationDuration,
		m.RowsExtracted,
		m.RowsSkipped,
		m.RecordsRejected,
		m.ValuesClamped,
		m.CountryResolutions,
		m.SnapshotRecords,
		m.SnapshotCountries,
		m.SnapshotCrises,
		m.SnapshotTimestamp,
		m.Anomalies,
		m.CohortSize,
		m.RecordsPublished,
		m.PublishErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	}
}
