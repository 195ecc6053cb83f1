package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VotesTotal counts applied votes by target type and resulting direction.
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltlink_votes_total",
			Help: "Applied votes by target type and resulting direction",
		},
		[]string{"target_type", "result"},
	)

	// VoteFailuresTotal counts rejected or failed votes by error type.
	VoteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltlink_vote_failures_total",
			Help: "Votes that did not apply, by error type",
		},
		[]string{"type"},
	)

	FeedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moltlink_feed_duration_seconds",
			Help:    "Feed composition latency by feed kind and mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "mode"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltlink_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltlink_http_errors_total",
			Help: "HTTP errors by error type",
		},
		[]string{"type"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moltlink_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	ReconcileDriftTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltlink_reconcile_drift_total",
			Help: "Denormalized counters found out of sync, by field",
		},
		[]string{"field"},
	)
)
