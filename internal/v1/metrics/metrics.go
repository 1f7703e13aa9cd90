package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat service.
//
// Naming convention: namespace_subsystem_name
// - namespace: driftroom (application-level grouping)
// - subsystem: websocket, room, ratelimit, cache (feature-level grouping)
// - name: specific metric (connections_active, messages_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, breaker state)
// - Counter: Cumulative events (messages, rejections)
// - Histogram: Latency distributions (frame handling time)

var (
	// ActiveConnections tracks the current number of active WebSocket sessions (Gauge - current state)
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driftroom",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// ActiveRooms tracks the current number of rooms with at least one subscriber (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driftroom",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one subscriber",
	})

	// ChatMessages tracks the total number of inbound chat frames by outcome (CounterVec - cumulative)
	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftroom",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total inbound chat frames by outcome",
	}, []string{"status"})

	// RateLimitRejections tracks denied hits per guarded scope (CounterVec - cumulative)
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftroom",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total requests and frames denied by the rate limiter",
	}, []string{"scope"})

	// FrameHandlingDuration tracks the time spent persisting and fanning out a chat frame (Histogram - latency distribution)
	FrameHandlingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "driftroom",
		Subsystem: "websocket",
		Name:      "frame_handling_seconds",
		Help:      "Time spent persisting and fanning out a chat frame",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// CacheBreakerState exposes the cache circuit breaker state (0 closed, 1 half-open, 2 open)
	CacheBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driftroom",
		Subsystem: "cache",
		Name:      "breaker_state",
		Help:      "Cache circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

// Outcome labels for ChatMessages.
const (
	MessageDelivered   = "delivered"
	MessageRateLimited = "rate_limited"
	MessageFailed      = "failed"
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
