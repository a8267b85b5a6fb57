package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	checkpoints   prometheus.Counter
	discrepancies prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records duration and outcome, returning err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddCheckpoints counts balance checkpoints written by a run.
func (m *Metrics) AddCheckpoints(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.checkpoints.Add(float64(n))
}

// SetDiscrepancies records how many stock keys drifted from their movement log at the last
// verification.
func (m *Metrics) SetDiscrepancies(n int) {
	if m == nil {
		return
	}
	m.discrepancies.Set(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsconsole_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opsconsole_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opsconsole_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	checkpoints := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opsconsole_ledger_checkpoints_total",
		Help: "Balance checkpoints written by the checkpoint job.",
	})
	discrepancies := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opsconsole_stock_discrepancies",
		Help: "Stock levels that differ from the sum of their movements at the last verification.",
	})
	registerer.MustRegister(runs, failures, duration, checkpoints, discrepancies)
	return &Metrics{runs: runs, failures: failures, duration: duration, checkpoints: checkpoints, discrepancies: discrepancies}
}
