// Package metrics exposes Prometheus instrumentation for the detection
// engine. The Recorder satisfies engine.Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements engine.Metrics using Prometheus.
type Recorder struct {
	patternsDetected *prometheus.CounterVec
	signalsApproved  prometheus.Counter
	signalsRejected  *prometheus.CounterVec
	campaignsOpen    prometheus.Gauge
	barDuration      prometheus.Histogram
}

// New creates a Prometheus metrics recorder registered on the default
// registry.
func New() *Recorder {
	return &Recorder{
		patternsDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_patterns_detected_total",
				Help: "Total number of patterns detected, by kind",
			},
			[]string{"kind"},
		),
		signalsApproved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wyckoff_signals_approved_total",
				Help: "Total number of signals approved by the validation pipeline",
			},
		),
		signalsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_signals_rejected_total",
				Help: "Total number of signals rejected, by pipeline stage",
			},
			[]string{"stage"},
		),
		campaignsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wyckoff_campaigns_open",
				Help: "Number of campaigns currently forming or active",
			},
		),
		barDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wyckoff_bar_processing_seconds",
				Help:    "Time spent processing one bar",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// PatternDetected records one detected pattern.
func (r *Recorder) PatternDetected(kind string) {
	r.patternsDetected.WithLabelValues(kind).Inc()
}

// SignalValidated records a pipeline outcome. stage is empty when approved.
func (r *Recorder) SignalValidated(approved bool, stage string) {
	if approved {
		r.signalsApproved.Inc()
		return
	}
	r.signalsRejected.WithLabelValues(stage).Inc()
}

// CampaignsOpen sets the open-campaign gauge.
func (r *Recorder) CampaignsOpen(n int) {
	r.campaignsOpen.Set(float64(n))
}

// ObserveBarDuration records per-bar processing latency in seconds.
func (r *Recorder) ObserveBarDuration(seconds float64) {
	r.barDuration.Observe(seconds)
}
