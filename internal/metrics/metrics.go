// Package metrics exposes pipeline run counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "affordability"

// Recorder holds the pipeline collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	findings      *prometheus.CounterVec
	records       *prometheus.CounterVec
	retries       *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage", "status"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_findings_total",
			Help:      "Anomaly findings by severity and rule.",
		}, []string{"severity", "rule"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records seen by the validator, by dataset and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Retried source fetches.",
		}, []string{"source"}),
	}
	r.registry.MustRegister(r.runs, r.stageDuration, r.findings, r.records, r.retries)
	r.registry.MustRegister(collectors.NewGoCollector())
	return r
}

func (r *Recorder) RunFinished(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

func (r *Recorder) StageFinished(stage, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (r *Recorder) Finding(severity, rule string) {
	if r == nil {
		return
	}
	r.findings.WithLabelValues(severity, rule).Inc()
}

// Records adds the validator's accepted and quarantined counts for a dataset.
func (r *Recorder) Records(kind string, accepted, quarantined int) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(kind, "accepted").Add(float64(accepted))
	r.records.WithLabelValues(kind, "quarantined").Add(float64(quarantined))
}

func (r *Recorder) Retried(source string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.retries.WithLabelValues(source).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
