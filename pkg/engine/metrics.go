package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the analyzer's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	analyses        *prometheus.CounterVec
	layerDuration   *prometheus.HistogramVec
	degradations    *prometheus.CounterVec
	cci             *prometheus.GaugeVec
	dedupCollapsed  prometheus.Counter
	missingControls *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyguard_analyses_total",
				Help: "Total number of analyses by outcome",
			},
			[]string{"outcome"},
		),
		layerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policyguard_layer_duration_seconds",
				Help:    "Time spent in each analysis layer",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"layer"},
		),
		degradations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyguard_degradations_total",
				Help: "Total number of degraded components by component",
			},
			[]string{"component"},
		),
		cci: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "policyguard_last_cci",
				Help: "Compliance Confidence Index of the most recent analysis by framework",
			},
			[]string{"framework"},
		),
		dedupCollapsed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "policyguard_dedup_shared_total",
				Help: "Total number of analyses served from an in-flight duplicate",
			},
		),
		missingControls: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "policyguard_last_missing_controls",
				Help: "Missing controls in the most recent analysis by framework",
			},
			[]string{"framework"},
		),
	}
}

func (m *Metrics) observeLayer(layer string, start time.Time) {
	if m == nil {
		return
	}
	m.layerDuration.WithLabelValues(layer).Observe(time.Since(start).Seconds())
}

func (m *Metrics) analysis(outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) degraded(component string) {
	if m == nil {
		return
	}
	m.degradations.WithLabelValues(component).Inc()
}

func (m *Metrics) framework(r *FrameworkResult) {
	if m == nil {
		return
	}
	m.cci.WithLabelValues(r.FrameworkID).Set(r.CCI)
	m.missingControls.WithLabelValues(r.FrameworkID).Set(float64(len(r.MissingControls)))
}

func (m *Metrics) shared() {
	if m == nil {
		return
	}
	m.dedupCollapsed.Inc()
}
