// Package metrics provides Prometheus instrumentation for the platform
// server. It exposes gauges for connection and presence counts, counters for
// chat and HTTP throughput, and a histogram for broadcast fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "letsgo_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of joined chat identities.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "letsgo_online_users",
		Help: "Current number of users present in the chat room",
	})

	// ChatMessagesTotal counts chat messages processed, labeled by outcome:
	// "sent", "rejected" (validation), or "failed" (persistence).
	ChatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "letsgo_chat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// BroadcastLatency records the time to fan a single event out to all
	// connected recipients, in seconds.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "letsgo_broadcast_latency_seconds",
		Help:    "Time to fan one event out to all connected clients",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	// HTTPRequestsTotal counts API requests by route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "letsgo_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		ChatMessagesTotal,
		BroadcastLatency,
		HTTPRequestsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
