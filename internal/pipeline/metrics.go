package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the pipeline metrics in a registry of their own, so that a
// short-lived CLI run can push them to a Pushgateway. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	stepAttempts *prometheus.CounterVec
	runs         *prometheus.CounterVec
	documents    *prometheus.CounterVec
}

// NewMetrics creates the pipeline metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rigger_step_duration_seconds",
				Help:    "Time taken by a pipeline step, all attempts included",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"step", "state"},
		),
		stepAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigger_step_attempts_total",
				Help: "Total number of pipeline step attempts",
			},
			[]string{"step"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigger_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"layer", "outcome"},
		),
		documents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigger_documents_applied_total",
				Help: "Total number of documents by apply status",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the metrics to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

func (m *Metrics) observeStep(res StepResult) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(res.Name, string(res.State)).Observe(res.Duration.Seconds())
	m.stepAttempts.WithLabelValues(res.Name).Add(float64(res.Attempts))
}

func (m *Metrics) observeRun(r *Report) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(r.Layer, string(r.Outcome)).Inc()
	for _, d := range r.Documents {
		m.documents.WithLabelValues(string(d.Status)).Inc()
	}
}
