package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditsGranted counts credits added to balances, by source (signup, subscription, renewal, topup, refund, manual).
	CreditsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapfuse_credits_granted_total",
			Help: "Total credits added to user balances",
		},
		[]string{"source"},
	)

	// CreditsDebited counts credits spent, by source (image, video, manual).
	CreditsDebited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapfuse_credits_debited_total",
			Help: "Total credits deducted from user balances",
		},
		[]string{"source"},
	)

	InsufficientCredits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapfuse_insufficient_credits_total",
			Help: "Requests rejected for lack of credits",
		},
	)

	// WebhookEvents counts inbound webhook deliveries.
	// result: applied, duplicate, ignored, rejected, failed
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapfuse_webhook_events_total",
			Help: "Inbound webhook deliveries by provider and outcome",
		},
		[]string{"provider", "event", "result"},
	)

	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapfuse_job_transitions_total",
			Help: "Generation job status transitions",
		},
		[]string{"kind", "status"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapfuse_provider_request_duration_seconds",
			Help:    "Duration of outbound generation provider submissions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "result"},
	)
)
