// Package qmetrics holds the Prometheus metrics for the report pipeline.
package qmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizforge",
		Subsystem: "checkout",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// CreditsGrantedTotal counts credits added to ledgers, labeled by tenant.
	CreditsGrantedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizforge",
		Subsystem: "credits",
		Name:      "granted_total",
		Help:      "Credits granted by tenant.",
	}, []string{"tenant"})

	// CreditsConsumedTotal counts credits spent on report access.
	CreditsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizforge",
		Subsystem: "credits",
		Name:      "consumed_total",
		Help:      "Credits consumed by tenant.",
	}, []string{"tenant"})

	// JobsClaimedTotal counts report jobs claimed for processing.
	JobsClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quizforge",
		Subsystem: "jobs",
		Name:      "claimed_total",
		Help:      "Report jobs claimed by the worker or inline path.",
	})

	// JobsCompletedTotal counts terminal job transitions by outcome.
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizforge",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Report jobs finished by outcome (ready/failed).",
	}, []string{"outcome"})

	// GenerationDuration tracks provider generation latency by path.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quizforge",
		Subsystem: "reports",
		Name:      "generation_duration_seconds",
		Help:      "Report generation duration in seconds by path (worker/inline).",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})

	// ReportAccessTotal counts report access outcomes.
	ReportAccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizforge",
		Subsystem: "reports",
		Name:      "access_total",
		Help:      "Report access requests by outcome.",
	}, []string{"outcome"})
)
