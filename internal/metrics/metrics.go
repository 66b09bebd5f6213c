// Package metrics provides Prometheus instrumentation for the relay. It
// exposes gauges for session counts, counters for gateway event intake and
// broadcast fan-out, and a per-session delivery failure counter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks the current number of connected client sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "Current number of connected WebSocket sessions",
	})

	// GatewayEventsTotal counts inbound gateway events by category.
	GatewayEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gateway_events_total",
		Help: "Total number of gateway events received",
	}, []string{"category"})

	// EventsDroppedTotal counts inbound events that produced no broadcast.
	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_gateway_events_dropped_total",
		Help: "Total number of gateway events dropped by the normalizer",
	})

	// BroadcastsTotal counts outbound broadcasts by event name.
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broadcasts_total",
		Help: "Total number of broadcast messages fanned out",
	}, []string{"event"})

	// DeliveryFailuresTotal counts per-session write failures during fan-out.
	DeliveryFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_delivery_failures_total",
		Help: "Total number of failed per-session deliveries",
	})

	// JoinsTotal counts join-channel commands accepted from clients.
	JoinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_room_joins_total",
		Help: "Total number of join-channel commands processed",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		GatewayEventsTotal,
		EventsDroppedTotal,
		BroadcastsTotal,
		DeliveryFailuresTotal,
		JoinsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
