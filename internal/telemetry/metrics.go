// Package telemetry holds the Prometheus collectors shared by the chat
// ingestion components and the optional HTTP endpoint that exposes them.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yambot_eventsub_frames_total",
		Help: "EventSub frames received, by message type",
	}, []string{"message_type"})
	EventsDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yambot_eventsub_events_total",
		Help: "Notifications decoded into chat events, by subscription type",
	}, []string{"subscription_type"})
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yambot_eventsub_decode_errors_total",
		Help: "Inbound frames that could not be decoded",
	})
	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "yambot_eventsub_connected",
		Help: "1 while an EventSub session is established",
	})
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yambot_eventsub_reconnects_total",
		Help: "Reconnect attempts, by reason (disconnect, migrate)",
	}, []string{"reason"})
	Subscriptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yambot_eventsub_subscriptions_total",
		Help: "EventSub subscription attempts, by type and result",
	}, []string{"subscription_type", "result"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yambot_token_refreshes_total",
		Help: "OAuth refresh grants, by result",
	}, []string{"result"})
	HelixRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yambot_helix_requests_total",
		Help: "Helix API requests, by endpoint and status code",
	}, []string{"endpoint", "code"})
)

// Init registers the collectors with the default registry (idempotent).
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			FramesReceived,
			EventsDecoded,
			DecodeErrors,
			Connected,
			Reconnects,
			Subscriptions,
			TokenRefreshes,
			HelixRequests,
		)
	})
}

// SetConnected flips the connected gauge.
func SetConnected(up bool) {
	if up {
		Connected.Set(1)
		return
	}
	Connected.Set(0)
}
