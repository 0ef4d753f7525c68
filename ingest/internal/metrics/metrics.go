package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convohook_webhooks_total",
			Help: "Total number of webhook deliveries by outcome",
		},
		[]string{"event_kind", "status"},
	)

	WebhookBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convohook_webhook_bytes_total",
			Help: "Total bytes of webhook bodies received",
		},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convohook_webhook_duration_seconds",
			Help:    "Time from receipt to response in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_kind"},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convohook_auth_failures_total",
			Help: "Total number of rejected webhook credentials",
		},
		[]string{"reason"},
	)

	// Queue metrics
	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convohook_jobs_enqueued_total",
			Help: "Total number of job envelopes written to the queue",
		},
	)

	JobsAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convohook_jobs_acked_total",
			Help: "Total number of job envelopes acknowledged",
		},
	)

	JobsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convohook_jobs_dead_lettered_total",
			Help: "Total number of job envelopes moved to the dead-letter map",
		},
		[]string{"kind"},
	)

	JobsReplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convohook_jobs_replayed_total",
			Help: "Total number of dead-letter replays by outcome",
		},
		[]string{"outcome"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "convohook_queue_depth",
			Help: "Current size of the queue keys",
		},
		[]string{"key"},
	)

	// Message metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convohook_messages_total",
			Help: "Total number of raw messages by processing outcome",
		},
		[]string{"family", "outcome"},
	)

	NormalizationSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convohook_normalization_skipped_total",
			Help: "Total number of raw messages that could not be normalized",
		},
	)

	StorageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "convohook_storage_duration_seconds",
			Help:    "Duration of message store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convohook_publish_errors_total",
			Help: "Total number of failed broker publishes",
		},
		[]string{"subject"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convohook_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"instance"},
	)
)
