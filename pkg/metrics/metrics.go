// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the plant sensor feed client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionsActive tracks the number of sensor feeds currently open
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plant_feed_subscriptions_active",
		Help: "Number of sensor feed subscriptions currently held open",
	})

	// SamplesTotal tracks live samples appended per sensor
	SamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plant_feed_samples_total",
		Help: "Total number of live samples appended to a sensor series",
	}, []string{"sensor_id"})

	// ControlEventsTotal tracks reserved control markers received on live streams
	ControlEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plant_feed_control_events_total",
		Help: "Total number of control marker events received and ignored",
	})

	// MalformedPayloadsTotal tracks live events dropped because they could not be decoded
	MalformedPayloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plant_feed_malformed_payloads_total",
		Help: "Total number of live events dropped as malformed",
	})

	// StaleEventsDiscarded tracks callbacks from closed or superseded transports
	StaleEventsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plant_feed_stale_events_discarded_total",
		Help: "Total number of events discarded because their transport was no longer current",
	})

	// ReconnectsTotal tracks live reconnection attempts
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plant_feed_reconnects_total",
		Help: "Total number of live stream reconnection attempts",
	})

	// TransportErrorsTotal tracks live transport failures
	TransportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plant_feed_transport_errors_total",
		Help: "Total number of live transport failures, including idle timeouts",
	})

	// HistoryRequestsTotal tracks historical requests by result
	HistoryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plant_feed_history_requests_total",
		Help: "Total number of historical data requests by result",
	}, []string{"result"})

	// HistoryRequestDuration tracks how long historical requests take
	HistoryRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plant_feed_history_request_duration_seconds",
		Help:    "Duration of historical data requests in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// LastValue tracks the most recent live value per sensor
	LastValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plant_feed_last_value",
		Help: "Most recent live value received for a sensor",
	}, []string{"sensor_id"})

	// APIRequestsTotal tracks REST calls to the plant API by operation and outcome
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plant_api_requests_total",
		Help: "Total number of plant API requests by operation and outcome",
	}, []string{"op", "outcome"})

	// CircuitBreakerState tracks the plant API circuit breaker (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plant_api_circuit_breaker_state",
		Help: "Plant API circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	// DiscoveryDuration tracks how long API discovery takes
	DiscoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plant_api_discovery_duration_seconds",
		Help:    "Duration of plant API mDNS discovery in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
