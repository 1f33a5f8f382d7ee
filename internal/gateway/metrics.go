package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors exported on /metrics. All
// methods are nil-safe so callers can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lockReclaims  prometheus.Counter
	emailFailures prometheus.Counter
}

// NewMetrics creates and registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_job_runs_total",
			Help: "Job runs by job id and terminal status.",
		}, []string{"job", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_job_duration_seconds",
			Help:    "Wall-clock duration of job runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"job"}),
		lockReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_lock_reclaims_total",
			Help: "Stale lock markers reclaimed across all stores.",
		}),
		emailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vigil_email_failures_total",
			Help: "Report emails that failed to deliver.",
		}),
	}

	reg.MustRegister(m.runsTotal, m.runDuration, m.lockReclaims, m.emailFailures)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records one finished job run.
func (m *Metrics) ObserveRun(jobID, status string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(jobID, status).Inc()
	m.runDuration.WithLabelValues(jobID).Observe(seconds)
}

// LockReclaimed counts one stale lock marker reclaim.
func (m *Metrics) LockReclaimed() {
	if m == nil {
		return
	}
	m.lockReclaims.Inc()
}

// EmailFailed counts one failed report delivery.
func (m *Metrics) EmailFailed() {
	if m == nil {
		return
	}
	m.emailFailures.Inc()
}
