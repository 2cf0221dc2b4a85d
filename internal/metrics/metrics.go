// Package metrics exposes Prometheus counters for the task pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hivegate"

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	intake         *prometheus.CounterVec
	guardrail      *prometheus.CounterVec
	worker         *prometheus.CounterVec
	claimConflicts prometheus.Counter
	sweeper        *prometheus.CounterVec
	leasesExpired  prometheus.Counter
	stageDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		intake: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intake_total",
				Help:      "Intake submissions by outcome (created, duplicate).",
			},
			[]string{"outcome"},
		),
		guardrail: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guardrail_decisions_total",
				Help:      "Guardrail decisions by outcome (promoted, rejected).",
			},
			[]string{"decision"},
		),
		worker: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_runs_total",
				Help:      "Worker runs by outcome (completed, idle).",
			},
			[]string{"outcome"},
		),
		claimConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claim_conflicts_total",
				Help:      "Claims lost to another worker.",
			},
		),
		sweeper: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeper_tasks_total",
				Help:      "Verification tasks processed by outcome.",
			},
			[]string{"outcome"},
		),
		leasesExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leases_expired_total",
				Help:      "In-progress tasks blocked after their lease expired.",
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of one pipeline stage run.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}

	m.registry.MustRegister(
		m.intake,
		m.guardrail,
		m.worker,
		m.claimConflicts,
		m.sweeper,
		m.leasesExpired,
		m.stageDuration,
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

func (m *Metrics) Intake(outcome string) {
	if m == nil {
		return
	}
	m.intake.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GuardrailDecision(decision string) {
	if m == nil {
		return
	}
	m.guardrail.WithLabelValues(decision).Inc()
}

func (m *Metrics) WorkerRun(outcome string) {
	if m == nil {
		return
	}
	m.worker.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *Metrics) SweeperTask(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeper.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) LeasesExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.leasesExpired.Add(float64(n))
}

// ObserveStage records how long a stage run took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
