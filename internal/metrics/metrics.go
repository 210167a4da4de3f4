// Package metrics exposes Prometheus collectors for the enhancement pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

type Metrics struct {
	jobs  *prometheus.CounterVec
	steps *prometheus.HistogramVec
	swept prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "enhancement",
			Name:      "jobs_total",
			Help:      "Enhancement jobs processed, by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "enhancement",
			Name:      "step_duration_seconds",
			Help:      "Duration of each pipeline step.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 70, 120},
		}, []string{"step"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "enhancement",
			Name:      "stalled_jobs_failed_total",
			Help:      "Jobs failed by the stalled-job sweeper.",
		}),
	}
	reg.MustRegister(m.jobs, m.steps, m.swept)
	return m
}

// Nop returns collectors that are not registered anywhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) JobFinished(outcome string) {
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStep(step string, started time.Time) {
	m.steps.WithLabelValues(step).Observe(time.Since(started).Seconds())
}

func (m *Metrics) StalledFailed(n int) {
	m.swept.Add(float64(n))
}
