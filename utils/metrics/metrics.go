package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "voice_relay_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_relay_rate_limited_total",
			Help: "Requests rejected because the caller exhausted its budget",
		},
	)

	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voice_relay_auth_failures_total",
			Help: "Requests rejected for a missing or wrong credential",
		},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_relay_upstream_errors_total",
			Help: "Failed upstream completions by kind",
		},
		[]string{"kind"},
	)

	UpstreamLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voice_relay_upstream_first_fragment_seconds",
			Help:    "Time until the upstream produced its first fragment",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_relay_active_streams",
			Help: "Streaming responses currently held open (SSE and websocket)",
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_relay_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)
