// Package observability exposes the engine's Prometheus instrumentation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmailsSent counts successful deliveries by email type.
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldrelay_emails_sent_total",
		Help: "Emails handed to the SMTP transport successfully.",
	}, []string{"type"})

	// EmailsFailed counts transport failures by email type.
	EmailsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldrelay_emails_failed_total",
		Help: "Emails that failed at the SMTP transport.",
	}, []string{"type"})

	// QuotaDenials counts reservations rejected by the limiter.
	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldrelay_quota_denials_total",
		Help: "Send attempts denied by daily or hourly quota.",
	}, []string{"scope"})

	// TrackingOpens counts recorded opens via the pixel endpoint.
	TrackingOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldrelay_tracking_opens_total",
		Help: "Unique opens recorded by the tracking pixel.",
	})

	// TrackingClicks counts recorded link clicks.
	TrackingClicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldrelay_tracking_clicks_total",
		Help: "Link clicks recorded by the redirect endpoint.",
	})

	// InboxMessagesClassified counts reconciled inbound messages.
	InboxMessagesClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldrelay_inbox_classified_total",
		Help: "Inbound messages by classification outcome.",
	}, []string{"classification"})

	// SendDuration observes the SMTP round trip.
	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coldrelay_send_duration_seconds",
		Help:    "Time spent delivering one email over SMTP.",
		Buckets: prometheus.DefBuckets,
	})
)
