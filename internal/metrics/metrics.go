// Package metrics defines Prometheus metrics for the exporter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/godata/exporter/internal/models"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exporter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_jobs_total",
			Help: "Finished export jobs by format and terminal status",
		},
		[]string{"format", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exporter_job_duration_seconds",
			Help:    "Wall time of one export run",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 7200},
		},
		[]string{"format"},
	)

	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_records_total",
			Help: "Records processed by export jobs",
		},
		[]string{"result"},
	)

	ArtifactBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exporter_artifact_bytes",
			Help:    "Size of published export artifacts",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		},
	)

	ArtifactVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_artifact_verifications_total",
			Help: "Artifact integrity checks by outcome",
		},
		[]string{"result"},
	)

	ArtifactsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exporter_artifacts_expired_total",
			Help: "Artifacts deleted by the retention sweep",
		},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exporter_jobs_in_flight",
			Help: "Export jobs currently running in this process",
		},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exporter_websocket_connections",
			Help: "Active job watch connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal,
		JobsTotal, JobDuration, RecordsTotal, JobsInFlight,
		ArtifactBytes, ArtifactVerifications, ArtifactsExpired,
		WSConnections,
	)
}

// ObserveJob records the outcome of a finished export run.
func ObserveJob(job *models.ExportJob, elapsed time.Duration) {
	JobsTotal.WithLabelValues(job.Format, string(job.Status)).Inc()
	JobDuration.WithLabelValues(job.Format).Observe(elapsed.Seconds())
	RecordsTotal.WithLabelValues("exported").Add(float64(job.ProcessedRecords - job.FailedRecords))
	RecordsTotal.WithLabelValues("failed").Add(float64(job.FailedRecords))
	if job.ArtifactBytes > 0 {
		ArtifactBytes.Observe(float64(job.ArtifactBytes))
	}
}
