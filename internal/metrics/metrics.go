package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "testrelay"

var (
	RequestAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_attempts_total",
			Help:      "Total number of HTTP attempts, including retries.",
		},
		[]string{"endpoint"},
	)

	RequestRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Total number of retried HTTP attempts, labeled by cause.",
		},
		[]string{"endpoint", "cause"},
	)

	RecordsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_uploaded_total",
			Help:      "Total number of result records confirmed by the ingest service.",
		},
		[]string{"status"},
	)

	UploadFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Total number of records that reached a terminal upload failure.",
		},
		[]string{"cause"},
	)

	AttachmentUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_uploads_total",
			Help:      "Total number of attachment uploads, labeled by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	BatchFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Total number of batch flushes, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	SessionCreationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_creations_total",
			Help:      "Total number of remote session creation attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	UploadLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_seconds",
			Help:      "Latency of one logical send including retries (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestAttemptsTotal,
		RequestRetriesTotal,
		RecordsUploadedTotal,
		UploadFailuresTotal,
		AttachmentUploadsTotal,
		BatchFlushesTotal,
		SessionCreationsTotal,
		UploadLatencySeconds,
	)
}
