package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_users_registered_total",
			Help: "Total users registered",
		},
	)

	SafeKeyCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_safekey_collisions_total",
			Help: "Registrations whose store key collides with another user",
		},
	)

	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Total message sends by outcome",
		},
		[]string{"result"}, // "acknowledged", "failed", "rejected"
	)

	SendStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_send_step_failures_total",
			Help: "Failed send steps",
		},
		[]string{"step"},
	)

	DecodeDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_decode_dropped_total",
			Help: "Malformed collection entries skipped while decoding",
		},
		[]string{"collection"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_published_total",
			Help: "Message events published",
		},
		[]string{"result"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_store_latency_seconds",
			Help:    "Tree store backend operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"backend", "op"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"path"},
	)
)
