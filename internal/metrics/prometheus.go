package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for bridge metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	invocationsTotal  *prometheus.CounterVec
	resolutionsTotal  *prometheus.CounterVec
	rowsCollected     *prometheus.CounterVec
	framesCollected   prometheus.Counter
	undeterminedTypes prometheus.Counter
	archivesExpanded  prometheus.Counter

	// Histograms
	invocationDuration *prometheus.HistogramVec

	// Gauges
	uptime            prometheus.GaugeFunc
	searchPathEntries prometheus.Gauge
	activeHandles     *prometheus.GaugeVec
}

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem. Until it is
// called every recording function is a no-op.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	start := time.Now()
	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of adapter invocations",
			},
			[]string{"kind", "status"},
		),

		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of function resolutions",
			},
			[]string{"strategy", "status"},
		),

		rowsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_collected_total",
				Help:      "Rows pushed to row collectors",
			},
			[]string{"kind"},
		),

		framesCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_collected_total",
				Help:      "Frames pushed to frame collectors",
			},
		),

		undeterminedTypes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "undetermined_column_types_total",
				Help:      "Output columns whose type could not be inferred",
			},
		),

		archivesExpanded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archives_expanded_total",
				Help:      "Code archives expanded onto disk",
			},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Adapter invocation duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		uptime: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Seconds since the bridge started",
			},
			func() float64 { return time.Since(start).Seconds() },
		),

		searchPathEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "search_path_entries",
				Help:      "Directories on the process-wide search path",
			},
		),

		activeHandles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_handles",
				Help:      "Initialized adapter handles",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		pm.invocationsTotal,
		pm.resolutionsTotal,
		pm.rowsCollected,
		pm.framesCollected,
		pm.undeterminedTypes,
		pm.archivesExpanded,
		pm.invocationDuration,
		pm.uptime,
		pm.searchPathEntries,
		pm.activeHandles,
	)

	promMetrics = pm
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func recordPrometheusInvocation(kind string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.invocationsTotal.WithLabelValues(kind, status(success)).Inc()
	promMetrics.invocationDuration.WithLabelValues(kind).Observe(float64(durationMs))
}

func recordPrometheusResolution(strategy string, success bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.resolutionsTotal.WithLabelValues(strategy, status(success)).Inc()
}

func recordPrometheusRows(kind string, n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.rowsCollected.WithLabelValues(kind).Add(float64(n))
}

func recordPrometheusFrames(n, undetermined int) {
	if promMetrics == nil {
		return
	}
	promMetrics.framesCollected.Add(float64(n))
	promMetrics.undeterminedTypes.Add(float64(undetermined))
}

func recordPrometheusArchiveExpanded() {
	if promMetrics == nil {
		return
	}
	promMetrics.archivesExpanded.Inc()
}

func setPrometheusSearchPathEntries(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.searchPathEntries.Set(float64(n))
}

// SetActiveHandles publishes the number of live adapter handles per kind.
func SetActiveHandles(kind string, n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeHandles.WithLabelValues(kind).Set(float64(n))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
