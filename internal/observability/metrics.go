package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hilltop_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	ObservationsExtracted prometheus.Counter
	ObservationsProduced  prometheus.Counter
	ResolveErrors         *prometheus.CounterVec // labels: kind={unparseable,empty_group,unsupported_direction}
	GroupsResolved        *prometheus.CounterVec // labels: method, clamped={true,false}
	TargetsFailed         prometheus.Counter
	PipelineRunning       prometheus.Gauge

	// Run metrics.
	TargetSize  prometheus.Histogram
	RunDuration prometheus.Histogram

	// Hilltop server metrics.
	HilltopRequests  *prometheus.CounterVec   // labels: request, outcome={success,error,server_error}
	HilltopRetries   *prometheus.CounterVec   // labels: request
	HilltopDuration  *prometheus.HistogramVec // labels: request
	BreakerOpen      prometheus.Gauge
	MeasurementCache *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ObservationsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_extracted_total",
			Help:      "Total observations parsed from Hilltop GetData responses.",
		}),
		ObservationsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_produced_total",
			Help:      "Total resolved observations written to the sink topic.",
		}),
		ResolveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_errors_total",
			Help:      "Detection limit resolution diagnostics by kind.",
		}, []string{"kind"}),
		GroupsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_resolved_total",
			Help:      "Resolved groups by method and whether the trend clamp applied.",
		}, []string{"method", "clamped"}),
		TargetsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_failed_total",
			Help:      "Total (site, measurement) targets that could not be extracted.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		TargetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_observations",
			Help:      "Number of observations extracted per target.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete extract-resolve-load run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		HilltopRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hilltop_requests_total",
			Help:      "Hilltop server requests by request type and outcome.",
		}, []string{"request", "outcome"}),
		HilltopRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hilltop_retries_total",
			Help:      "Hilltop request retries by request type.",
		}, []string{"request"}),
		HilltopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hilltop_request_duration_seconds",
			Help:      "Hilltop request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"request"}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hilltop_breaker_open",
			Help:      "1 when the Hilltop circuit breaker is open, 0 otherwise.",
		}),
		MeasurementCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurement_cache_total",
			Help:      "Measurement cache lookups by result.",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.ObservationsExtracted,
		m.ObservationsProduced,
		m.ResolveErrors,
		m.GroupsResolved,
		m.TargetsFailed,
		m.PipelineRunning,
		m.TargetSize,
		m.RunDuration,
		m.HilltopRequests,
		m.HilltopRetries,
		m.HilltopDuration,
		m.BreakerOpen,
		m.MeasurementCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ObservationsExtracted: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "observations_extracted_total"}),
		ObservationsProduced:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "observations_produced_total"}),
		ResolveErrors:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "resolve_errors_total"}, []string{"kind"}),
		GroupsResolved:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "groups_resolved_total"}, []string{"method", "clamped"}),
		TargetsFailed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "targets_failed_total"}),
		PipelineRunning:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		TargetSize:            prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "target_observations"}),
		RunDuration:           prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "run_duration_seconds"}),
		HilltopRequests:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "hilltop_requests_total"}, []string{"request", "outcome"}),
		HilltopRetries:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "hilltop_retries_total"}, []string{"request"}),
		HilltopDuration:       prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "hilltop_request_duration_seconds"}, []string{"request"}),
		BreakerOpen:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "hilltop_breaker_open"}),
		MeasurementCache:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "measurement_cache_total"}, []string{"result"}),
	}
}
