package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Broker metrics
	MessagesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_committed_total",
			Help: "Total number of messages committed to room logs",
		},
		[]string{"room_id"},
	)

	SubmitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_submit_rejections_total",
			Help: "Total number of rejected submissions by error kind",
		},
		[]string{"kind"},
	)

	BotInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bot_invocations_total",
			Help: "Total number of bot invocations by outcome",
		},
		[]string{"outcome"},
	)

	// Subscription metrics
	SubscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_subscribers_active",
			Help: "Number of live room subscriptions",
		},
		[]string{"room_id"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_deliveries_total",
			Help: "Total number of delivered batches by kind",
		},
		[]string{"room_id", "type"},
	)

	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_delivery_retries_total",
			Help: "Total number of retried deliveries",
		},
		[]string{"room_id"},
	)

	SubscribersDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_subscribers_degraded_total",
			Help: "Total number of subscriptions degraded after exhausting delivery retries",
		},
		[]string{"room_id"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)
)
