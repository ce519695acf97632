package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts dequeued messages by outcome
	// (processed, failed, malformed).
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_pipeline_messages_total",
			Help: "Total number of dequeued messages by outcome",
		},
		[]string{"outcome"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relic_pipeline_processing_duration_seconds",
			Help:    "Duration from dequeue to final store write",
			Buckets: prometheus.DefBuckets,
		},
	)

	PopErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_pipeline_pop_errors_total",
			Help: "Total number of failed queue pops",
		},
	)

	ErrorRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_pipeline_error_record_failures_total",
			Help: "Total number of error records that could not be stored",
		},
	)

	NotifyErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_pipeline_notify_errors_total",
			Help: "Total number of record notifications that could not be published",
		},
	)
)
