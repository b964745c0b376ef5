// Package metrics exposes the Prometheus collectors for shopguard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Refresh cycles by loop (dashboard, notifications, alerts) and result.
	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopguard_refresh_cycles_total",
			Help: "Total refresh cycles by loop and result",
		},
		[]string{"loop", "result"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopguard_refresh_duration_seconds",
			Help:    "Duration of refresh cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	// Cycles whose result was dropped because a newer cycle had started.
	StaleCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopguard_stale_cycles_total",
			Help: "Total dashboard cycles discarded by the generation guard",
		},
	)

	GatewayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopguard_gateway_errors_total",
			Help: "Total data gateway errors by operation",
		},
		[]string{"operation"},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopguard_push_deliveries_total",
			Help: "Push deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	UnreadNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopguard_unread_notifications",
			Help: "Current number of unread theft notifications",
		},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopguard_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopguard_api_requests_total",
			Help: "HTTP API requests by method, route and status class",
		},
		[]string{"method", "route", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shopguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordRefresh records one refresh cycle of loop.
func RecordRefresh(loop string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RefreshCycles.WithLabelValues(loop, result).Inc()
	RefreshDuration.WithLabelValues(loop).Observe(duration.Seconds())
}

// RecordPush records one delivery attempt on channel.
func RecordPush(channel string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	PushDeliveries.WithLabelValues(channel, result).Inc()
}

// RecordGatewayError counts a failed gateway call.
func RecordGatewayError(operation string) {
	GatewayErrors.WithLabelValues(operation).Inc()
}

// StatusClass maps an HTTP status code to "2xx", "4xx" and so on.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
