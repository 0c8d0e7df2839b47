package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_operations_total",
			Help: "Dispatch engine operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_operation_duration_seconds",
			Help:    "Duration of dispatch engine units of work",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tickets_issued_total",
			Help: "Tickets issued per service code",
		},
		[]string{"service_code"},
	)

	sequenceConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_sequence_conflicts_total",
			Help: "Sequence number collisions retried by the allocator",
		},
		[]string{"service_code"},
	)

	publishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_publish_failures_total",
			Help: "Change events that could not be published after commit",
		},
	)
)
