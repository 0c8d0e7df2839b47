package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observer_fetch_total",
		Help: "Observer collection fetches by outcome.",
	}, []string{"collection", "outcome"})

	fetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observer_fetch_retries_total",
		Help: "Observer fetch attempts that failed and were retried.",
	}, []string{"collection"})

	fallbackReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "observer_fallback_reads_total",
		Help: "Fallback reads issued after an empty fetch.",
	}, []string{"collection", "outcome"})

	resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "observer_push_resubscribes_total",
		Help: "Push subscriptions torn down and re-established.",
	})
)
