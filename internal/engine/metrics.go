package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mageframe/video-kit/internal/model"
)

var (
	jobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videokit_jobs_created_total",
			Help: "Total number of generation jobs created.",
		},
		[]string{"backend"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videokit_jobs_finished_total",
			Help: "Total number of generation jobs that reached a terminal status.",
		},
		[]string{"backend", "status"},
	)

	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videokit_workflow_duration_seconds",
			Help:    "Duration of a job workflow from start to terminal status, in seconds.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"backend"},
	)

	pollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "videokit_poll_attempts",
			Help:    "Number of status polls a workflow made before its task settled.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
	)

	activeWorkflows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "videokit_active_workflows",
			Help: "Number of job workflows currently running.",
		},
	)

	downloadedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "videokit_downloaded_bytes_total",
			Help: "Total bytes of finished video downloaded from the provider.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsCreatedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
	prometheus.MustRegister(workflowDuration)
	prometheus.MustRegister(pollAttempts)
	prometheus.MustRegister(activeWorkflows)
	prometheus.MustRegister(downloadedBytesTotal)

	// Pre-initialize label combinations so they appear in /metrics before
	// the first job finishes.
	for _, b := range []model.Backend{model.BackendRunway, model.BackendSora2} {
		jobsCreatedTotal.WithLabelValues(string(b))
		for _, s := range []model.Status{model.StatusCompleted, model.StatusFailed} {
			jobsFinishedTotal.WithLabelValues(string(b), string(s))
		}
	}
}
