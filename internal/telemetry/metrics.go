// Package telemetry holds the Prometheus collectors exported on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "transitions_applied_total",
			Help:      "Transitions persisted, by action and resulting status",
		},
		[]string{"action", "status"},
	)

	TransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "transitions_rejected_total",
			Help:      "Actions rejected, by action and reason",
		},
		[]string{"action", "reason"},
	)

	ViewsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "views_resolved_total",
			Help:      "Review views resolved, by application status",
		},
		[]string{"status"},
	)

	CheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "loandesk",
			Name:      "check_evaluation_seconds",
			Help:      "Time spent evaluating advisory checks for one application",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "notifications_total",
			Help:      "Notifications attempted, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loandesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route pattern and status code",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)
)
