package orchestrator

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

// Metrics holds the sync collectors. They live on a private registry so
// several orchestrators (tests) never collide. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	SourcesProcessed   *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	DeliveryDuration   prometheus.Histogram
	Retries            *prometheus.CounterVec
	QualityScore       prometheus.Histogram
	LastRunDuration    prometheus.Gauge
	LastRunFailed      prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SourcesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seeder_sources_processed_total",
				Help: "Sources that reached an outcome, by outcome (succeeded, skipped, failed, unchanged, extracted).",
			},
			[]string{"outcome"},
		),
		ExtractionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seeder_extraction_duration_seconds",
				Help:    "Extraction latency including retries, by source type.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"source_type"},
		),
		DeliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "seeder_delivery_duration_seconds",
				Help:    "Delivery latency including retries.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seeder_retries_total",
				Help: "Retries scheduled after a transient failure, by stage.",
			},
			[]string{"stage"},
		),
		QualityScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "seeder_quality_score",
				Help:    "Overall quality score of extracted content.",
				Buckets: prometheus.LinearBuckets(10, 10, 9),
			},
		),
		LastRunDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seeder_last_run_duration_seconds",
				Help: "Wall time of the last finished run.",
			},
		),
		LastRunFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seeder_last_run_failed_sources",
				Help: "Sources recorded failed by the last finished run.",
			},
		),
	}
	m.Registry.MustRegister(
		m.SourcesProcessed,
		m.ExtractionDuration,
		m.DeliveryDuration,
		m.Retries,
		m.QualityScore,
		m.LastRunDuration,
		m.LastRunFailed,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) processed(outcome string) {
	if m != nil {
		m.SourcesProcessed.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeExtraction(t catalog.SourceType, d time.Duration) {
	if m != nil {
		label := string(t)
		if label == "" {
			label = "unknown"
		}
		m.ExtractionDuration.WithLabelValues(label).Observe(d.Seconds())
	}
}

func (m *Metrics) observeDelivery(d time.Duration) {
	if m != nil {
		m.DeliveryDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) retried(stage string) {
	if m != nil {
		m.Retries.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) observeQuality(score float64) {
	if m != nil {
		m.QualityScore.Observe(score)
	}
}

func (m *Metrics) observeRun(s Summary) {
	if m != nil {
		m.LastRunDuration.Set(s.Duration.Seconds())
		m.LastRunFailed.Set(float64(s.Failed))
	}
}
