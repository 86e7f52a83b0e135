// Package metrics holds the Prometheus collectors shared by the scheduler,
// the probe runner and the notification fan-out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "webmoniter"

var (
	// Labels: job, status (success, error, skipped, coalesced)
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Job executions by outcome",
	}, []string{"job", "status"})

	// Labels: job
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Job execution time in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"job"})

	// Labels: platform, result (unchanged, inserted, changed, suppressed, expired, error)
	ProbeFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "probe",
		Name:      "fetches_total",
		Help:      "Entity fetches by classification",
	}, []string{"platform", "result"})

	// Labels: platform
	CredentialValid = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "probe",
		Name:      "credential_valid",
		Help:      "1 while the platform credential is considered valid",
	}, []string{"platform"})

	// Labels: channel, type, status (success, error, rate_limited)
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Channel dispatch attempts by outcome",
	}, []string{"channel", "type", "status"})

	QuietSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "quiet_suppressed_total",
		Help:      "Notifications dropped during quiet hours",
	})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "config",
		Name:      "reloads_total",
		Help:      "Config file changes by outcome (applied, unchanged, invalid)",
	}, []string{"result"})
)

func ObserveJob(job, status string, d time.Duration) {
	JobRuns.WithLabelValues(job, status).Inc()
	if d > 0 {
		JobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func SetCredentialValid(platform string, valid bool) {
	v := 0.0
	if valid {
		v = 1
	}
	CredentialValid.WithLabelValues(platform).Set(v)
}
