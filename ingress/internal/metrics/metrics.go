package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts /send requests by response status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_ingress_requests_total",
			Help: "Total number of /send requests by status code",
		},
		[]string{"status"},
	)

	EnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_ingress_enqueued_total",
			Help: "Total number of data points pushed to the queue",
		},
	)

	EnqueueErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_ingress_enqueue_errors_total",
			Help: "Total number of failed queue pushes",
		},
	)

	PayloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relic_ingress_payload_bytes_total",
			Help: "Total bytes of serialized data points enqueued",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relic_ingress_rate_limit_hits_total",
			Help: "Total number of rate limited requests by client",
		},
		[]string{"client"},
	)
)
