package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexsoc_records_ingested_total",
			Help: "Total number of log records ingested",
		},
		[]string{"source"},
	)

	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexsoc_records_rejected_total",
			Help: "Total number of log records rejected during normalization",
		},
		[]string{"source"},
	)

	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexsoc_records_dropped_total",
			Help: "Records dropped because the ingest channel was full",
		},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexsoc_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"reason", "severity"},
	)

	DetectionBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexsoc_detection_batch_records",
			Help:    "Number of records evaluated per detection pass",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexsoc_detection_duration_seconds",
			Help:    "Time taken by one detection pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexsoc_response_actions_total",
			Help: "Total number of response actions executed",
		},
		[]string{"action", "status"},
	)

	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexsoc_incidents_created_total",
			Help: "Total number of incidents opened",
		},
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexsoc_storage_errors_total",
			Help: "Storage operations that failed",
		},
		[]string{"op"},
	)
)
