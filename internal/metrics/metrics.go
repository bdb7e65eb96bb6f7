// Package metrics provides Prometheus instrumentation for the chat core. It
// exposes gauges for connections and rooms, counters for message, fan-out and
// notification throughput, and histograms for handler latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of authenticated WebSocket
	// connections on this instance.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Current number of authenticated WebSocket connections",
	})

	// HandshakesTotal counts WebSocket handshakes by outcome:
	// "accepted", "unauthorized", "blocked", "rate_limited", "full".
	HandshakesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_handshakes_total",
		Help: "WebSocket handshakes by outcome",
	}, []string{"outcome"})

	// RoomsActive tracks the number of rooms with at least one local member.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_active",
		Help: "Rooms with at least one local member",
	})

	// MessagesTotal counts chat messages, labeled by result:
	// "appended", "read", "rejected", "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Chat messages processed",
	}, []string{"result"})

	// EventsTotal counts inbound realtime events by type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_total",
		Help: "Inbound realtime events by type",
	}, []string{"type"})

	// FanoutTotal counts outbound room emissions by room kind ("user",
	// "conversation") and event type.
	FanoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_total",
		Help: "Room emissions by room kind and event type",
	}, []string{"room", "event"})

	// NotificationsTotal counts stored notifications by kind.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notifications_total",
		Help: "Notifications enqueued by kind",
	}, []string{"kind"})

	// EventLatency records realtime handler latency in seconds.
	EventLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_latency_seconds",
		Help:    "Realtime event handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"type"})

	// HTTPDuration records REST request latency by route template and status.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_http_request_duration_seconds",
		Help:    "REST request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		HandshakesTotal,
		RoomsActive,
		MessagesTotal,
		EventsTotal,
		FanoutTotal,
		NotificationsTotal,
		EventLatency,
		HTTPDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
