// Package metrics exposes engine events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cloudsync/internal/syncer"
)

const namespace = "cloudsync"

// SyncMetrics records engine events on a Prometheus registry.
type SyncMetrics struct {
	uploadAttempts    *prometheus.CounterVec
	branchDuration    *prometheus.HistogramVec
	branchesSettled   *prometheus.CounterVec
	conflictsDetected *prometheus.CounterVec
	conflictsResolved *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	queueDepth        prometheus.Gauge
}

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *SyncMetrics {
	f := promauto.With(reg)
	return &SyncMetrics{
		uploadAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "Upload attempts per backend and outcome",
		}, []string{"backend", "outcome"}),
		branchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_branch_duration_seconds",
			Help:      "Time from branch start to its terminal status, retries included",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"backend"}),
		branchesSettled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_branches_total",
			Help:      "Settled sync branches per backend and status",
		}, []string{"backend", "status"}),
		conflictsDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Conflicts recorded by detection; created=false means an open conflict was refreshed",
		}, []string{"type", "created"}),
		conflictsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_resolved_total",
			Help:      "Conflicts resolved per policy",
		}, []string{"policy"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Sync jobs that reached a terminal status",
		}, []string{"status"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Jobs waiting in the dispatch queue",
		}),
	}
}

func (m *SyncMetrics) UploadAttempt(backend syncer.BackendKind, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case syncer.IsTransient(err):
		outcome = "transient_error"
	default:
		outcome = "permanent_error"
	}
	m.uploadAttempts.WithLabelValues(string(backend), outcome).Inc()
}

func (m *SyncMetrics) BranchSettled(backend syncer.BackendKind, status syncer.BackendStatus, elapsed time.Duration) {
	m.branchesSettled.WithLabelValues(string(backend), string(status)).Inc()
	m.branchDuration.WithLabelValues(string(backend)).Observe(elapsed.Seconds())
}

func (m *SyncMetrics) ConflictRecorded(t syncer.ConflictType, created bool) {
	label := "false"
	if created {
		label = "true"
	}
	m.conflictsDetected.WithLabelValues(string(t), label).Inc()
}

func (m *SyncMetrics) ConflictResolved(p syncer.ResolutionPolicy) {
	m.conflictsResolved.WithLabelValues(string(p)).Inc()
}

func (m *SyncMetrics) JobFinished(status syncer.JobStatus) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
}

// SetQueueDepth reports the number of queued jobs.
func (m *SyncMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

var _ syncer.Recorder = (*SyncMetrics)(nil)
