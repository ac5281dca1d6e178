package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initRunMetrics(cfg Config) {
	m.runExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_run_executions_total",
			Help: "Total number of workflow run executions by terminal status",
		},
		[]string{"status"},
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: cfg.RunDurationBuckets,
		},
		[]string{"status"},
	)

	m.runActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflow_run_active_count",
			Help: "Current number of active workflow runs",
		},
	)

	m.runCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_compensations_total",
			Help: "Total number of step compensations by outcome",
		},
		[]string{"status"},
	)

	m.compensationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_compensation_duration_seconds",
			Help:    "Compensation cascade duration in seconds",
			Buckets: cfg.CompensationDurationBuckets,
		},
	)

	m.runRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_run_recovery_total",
			Help: "Total number of run recovery attempts by status",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(m.runExecutions)
	m.registry.MustRegister(m.runDuration)
	m.registry.MustRegister(m.runActive)
	m.registry.MustRegister(m.runCompensations)
	m.registry.MustRegister(m.compensationDuration)
	m.registry.MustRegister(m.runRecoveries)
}

// RecordRunExecution records one run's terminal outcome.
func (m *Manager) RecordRunExecution(status string) {
	if !m.enabled {
		return
	}
	m.runExecutions.WithLabelValues(status).Inc()
}

// RecordRunDuration records run execution latency.
func (m *Manager) RecordRunDuration(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveRuns increments the active run count.
func (m *Manager) IncActiveRuns() {
	if !m.enabled {
		return
	}
	m.runActive.Inc()
}

// DecActiveRuns decrements the active run count.
func (m *Manager) DecActiveRuns() {
	if !m.enabled {
		return
	}
	m.runActive.Dec()
}

// RecordCompensation records one step compensation outcome.
func (m *Manager) RecordCompensation(status string) {
	if !m.enabled {
		return
	}
	m.runCompensations.WithLabelValues(status).Inc()
}

// RecordCompensationDuration records one compensation cascade's duration.
func (m *Manager) RecordCompensationDuration(duration time.Duration) {
	if !m.enabled {
		return
	}
	m.compensationDuration.Observe(duration.Seconds())
}

// RecordRecovery records one recovery attempt outcome.
func (m *Manager) RecordRecovery(status string) {
	if !m.enabled {
		return
	}
	m.runRecoveries.WithLabelValues(status).Inc()
}
