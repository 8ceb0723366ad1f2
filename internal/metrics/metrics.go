// Package metrics exposes Prometheus collectors for the prediction service.
package metrics

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PredictionTotal    *prometheus.CounterVec
	PredictionDuration *prometheus.HistogramVec
	StageDuration      *prometheus.HistogramVec
	DetectionCount     prometheus.Histogram
	ModelLoadTotal     *prometheus.CounterVec
	ModelLoadDuration  *prometheus.HistogramVec
	EventPublishErrors prometheus.Counter
}

func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PredictionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_requests_total",
				Help: "Total number of prediction requests partitioned by model and outcome.",
			},
			[]string{"model", "outcome"},
		),
		PredictionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prediction_duration_seconds",
				Help:    "Wall-clock time of a prediction request.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"model"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prediction_stage_duration_seconds",
				Help:    "Time spent in each stage of the prediction pipeline.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"model", "stage"},
		),
		DetectionCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "detector_detections_per_image",
				Help:    "Number of detections returned per detector request.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 300},
			},
		),
		ModelLoadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_load_total",
				Help: "Total number of model load attempts.",
			},
			[]string{"model", "status"},
		),
		ModelLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_load_duration_seconds",
				Help:    "Time taken to load a model artifact.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"model"},
		),
		EventPublishErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "prediction_event_publish_errors_total",
				Help: "Total number of prediction events that could not be published.",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.PredictionTotal,
		m.PredictionDuration,
		m.StageDuration,
		m.DetectionCount,
		m.ModelLoadTotal,
		m.ModelLoadDuration,
		m.EventPublishErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}

	return m, nil
}

// RegisterPoolStats exports the database connection pool occupancy.
func (m *Metrics) RegisterPoolStats(stats func() sql.DBStats) error {
	if m == nil {
		return nil
	}

	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_pool_connections_in_use",
			Help: "Number of database connections currently in use.",
		}, func() float64 { return float64(stats().InUse) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_pool_connections_idle",
			Help: "Number of idle database connections.",
		}, func() float64 { return float64(stats().Idle) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "db_pool_max_open_connections",
			Help: "Maximum number of open database connections.",
		}, func() float64 { return float64(stats().MaxOpenConnections) }),
	}
	for _, g := range gauges {
		if err := m.registry.Register(g); err != nil {
			return fmt.Errorf("failed to register pool metrics: %w", err)
		}
	}
	return nil
}

func (m *Metrics) ObservePrediction(model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PredictionTotal.WithLabelValues(model, outcome).Inc()
	m.PredictionDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStage(model, stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(model, stage).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDetections(n int) {
	if m == nil {
		return
	}
	m.DetectionCount.Observe(float64(n))
}

func (m *Metrics) ObserveModelLoad(model string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelLoadTotal.WithLabelValues(model, status).Inc()
	m.ModelLoadDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) IncEventPublishErrors() {
	if m == nil {
		return
	}
	m.EventPublishErrors.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
