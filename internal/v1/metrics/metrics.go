package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the music sync server.
//
// Naming convention: namespace_subsystem_name
// - namespace: music_sync (application-level grouping)
// - subsystem: websocket, room, health (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, members)
// - Counter: Cumulative events (frames processed, drops, expirations)
// - Histogram: Latency distributions (dispatch time)

var (
	// ActiveWebSocketConnections tracks the current number of open WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "music_sync",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "music_sync",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of connected members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "music_sync",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of connected members in each room",
	}, []string{"room_id"})

	// WebsocketEvents counts inbound frames by type and dispatch status.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "music_sync",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks time spent dispatching inbound frames.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "music_sync",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket frames",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// BroadcastDropped counts fan-out sends dropped because a member's
	// outbound backlog was full.
	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "music_sync",
		Subsystem: "room",
		Name:      "broadcast_dropped_total",
		Help:      "Broadcast messages dropped due to full client backlogs",
	})

	// RoomsExpired counts rooms deleted by the health monitor.
	RoomsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "music_sync",
		Subsystem: "health",
		Name:      "rooms_expired_total",
		Help:      "Rooms expired after the host reconnection window elapsed",
	})

	// HealthTransitions counts healthy/unhealthy edges observed by the monitor.
	HealthTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "music_sync",
		Subsystem: "health",
		Name:      "transitions_total",
		Help:      "Room health state transitions",
	}, []string{"to"})

	// CircuitBreakerState reports breaker state for external dependencies
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "music_sync",
		Subsystem: "dependency",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})

	// CircuitBreakerFailures counts operations rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "music_sync",
		Subsystem: "dependency",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations rejected because a circuit breaker was open",
	}, []string{"dependency"})

	// RateLimitRequests counts requests that passed a rate limit check.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "music_sync",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Requests checked against a rate limit",
	}, []string{"endpoint"})

	// RateLimitExceeded counts requests rejected by a rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "music_sync",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected because a rate limit was reached",
	}, []string{"endpoint", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
