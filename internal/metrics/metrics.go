// Package metrics exposes Prometheus instruments for the journal pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupjournal"

// Metrics holds the pipeline instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	analysisTasks      *prometheus.CounterVec
	cascadeTriggers    prometheus.Counter
	synthesisRuns      *prometheus.CounterVec
	synthesisDuration  prometheus.Histogram
	backfillRuns       prometheus.Counter
	backfillGroups     *prometheus.CounterVec
	dispatcherInFlight prometheus.Gauge
}

// New creates and registers all instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		analysisTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_tasks_total",
			Help:      "Per-item analysis tasks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		cascadeTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_triggers_total",
			Help:      "Synthesis requests published by the cascade rule.",
		}),
		synthesisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_runs_total",
			Help:      "Synthesis trigger invocations by source and result.",
		}, []string{"source", "result"}),
		synthesisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Duration of synthesis trigger invocations.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		backfillRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_runs_total",
			Help:      "Completed backfill runs.",
		}),
		backfillGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_groups_total",
			Help:      "Groups handled by backfill by status.",
		}, []string{"status"}),
		dispatcherInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_in_flight",
			Help:      "Cascade syntheses currently running.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.analysisTasks,
		m.cascadeTriggers,
		m.synthesisRuns,
		m.synthesisDuration,
		m.backfillRuns,
		m.backfillGroups,
		m.dispatcherInFlight,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// AnalysisTask records one analysis task outcome ("ok" or "degraded").
func (m *Metrics) AnalysisTask(kind, outcome string) {
	if m == nil {
		return
	}
	m.analysisTasks.WithLabelValues(kind, outcome).Inc()
}

// CascadeTriggered records a published cascade request.
func (m *Metrics) CascadeTriggered() {
	if m == nil {
		return
	}
	m.cascadeTriggers.Inc()
}

// SynthesisRun records a synthesis invocation.
func (m *Metrics) SynthesisRun(source, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.synthesisRuns.WithLabelValues(source, result).Inc()
	m.synthesisDuration.Observe(elapsed.Seconds())
}

// BackfillRun records a finished backfill run and its per-group statuses.
func (m *Metrics) BackfillRun(statuses map[string]int) {
	if m == nil {
		return
	}
	m.backfillRuns.Inc()
	for status, n := range statuses {
		m.backfillGroups.WithLabelValues(status).Add(float64(n))
	}
}

// DispatcherInFlight adjusts the in-flight cascade gauge by delta.
func (m *Metrics) DispatcherInFlight(delta int) {
	if m == nil {
		return
	}
	m.dispatcherInFlight.Add(float64(delta))
}
