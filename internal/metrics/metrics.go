// Package metrics holds the Prometheus collectors for upload activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// UploadsStartedTotal counts uploads accepted by the controller
	UploadsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ytupload_uploads_started_total",
			Help: "Total number of uploads started",
		},
	)

	// UploadsTotal counts finished uploads by outcome (completed, cancelled, failed)
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytupload_uploads_total",
			Help: "Total number of finished uploads by outcome",
		},
		[]string{"status"},
	)

	// ChunksTotal counts chunk transfers by result (ok, error)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytupload_chunks_total",
			Help: "Total number of upload chunks sent",
		},
		[]string{"result"},
	)

	// BytesSentTotal counts bytes acknowledged by the server
	BytesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ytupload_bytes_sent_total",
			Help: "Total number of bytes acknowledged by the upload server",
		},
	)

	// CleanupTotal counts remote cleanup outcomes after cancellation
	// (deleted, not_found, delete_failed, search_failed)
	CleanupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytupload_cancel_cleanup_total",
			Help: "Remote cleanup outcomes after a cancelled upload",
		},
		[]string{"result"},
	)

	// RetriesTotal counts retried remote calls by operation (advance, search.list, ...)
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytupload_retries_total",
			Help: "Total number of retried remote calls by operation",
		},
		[]string{"op"},
	)

	// HistoryWriteErrorsTotal counts failed history store writes
	HistoryWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ytupload_history_write_errors_total",
			Help: "Total number of failed history writes",
		},
	)
)

// Histogram metrics (distributions)
var (
	// ChunkDuration tracks how long one chunk takes, retries included
	ChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ytupload_chunk_duration_seconds",
			Help:    "Time to transfer one chunk in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// UploadSizeBytes tracks the size of uploaded files
	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "ytupload_upload_size_bytes",
			Help: "Distribution of uploaded file sizes in bytes",
			Buckets: []float64{
				10485760,     // 10 MB
				104857600,    // 100 MB
				1073741824,   // 1 GB
				10737418240,  // 10 GB
				137438953472, // 128 GB
			},
		},
	)
)

// Gauge metrics (current values)
var (
	// CircuitBreakerState is the breaker state per endpoint (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ytupload_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint (0 closed, 1 open, 2 half-open)",
		},
		[]string{"endpoint"},
	)

	// QuotaRemaining is the estimated remaining daily Data API quota
	QuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ytupload_quota_remaining_units",
			Help: "Estimated remaining daily YouTube Data API quota in units",
		},
	)
)
