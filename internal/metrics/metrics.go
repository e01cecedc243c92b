package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaza_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plaza_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Message loop metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaza_messages_processed_total",
			Help: "Inbound messages dispatched by type",
		},
		[]string{"type"},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaza_messages_dropped_total",
			Help: "Inbound messages dropped before dispatch",
		},
		[]string{"reason"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plaza_inbound_queue_depth",
			Help: "Messages waiting in the inbound queue",
		},
	)

	MessageLoad = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plaza_message_load",
			Help: "Fraction of the loop interval spent processing messages",
		},
	)

	FlushBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plaza_flush_bytes",
			Help:    "Size of outbound frames",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	// Room metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plaza_rooms",
			Help: "Rooms held in memory",
		},
	)

	ParticipantsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plaza_participants",
			Help: "Participants across all rooms",
		},
	)

	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plaza_ws_connections",
			Help: "Open websocket connections",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaza_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"scope"},
	)

	// Persistence metrics
	PersistenceOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plaza_persistence_ops_total",
			Help: "Room persistence operations",
		},
		[]string{"op", "result"},
	)

	PersistenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plaza_persistence_latency_seconds",
			Help:    "Room persistence latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	RoomsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plaza_rooms_purged_total",
			Help: "Persisted rooms removed by retention",
		},
	)
)

// Result maps an error to the "result" label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
