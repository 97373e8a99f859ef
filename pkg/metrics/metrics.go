// Package metrics holds the Prometheus instrumentation shared across
// components: ingest rate, tick staleness, liquidation attempts, venue
// latency and lease contention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PriceTicksReceivedTotal counts valid ticks accepted per venue.
	PriceTicksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_ticks_received_total",
		Help: "Total number of valid price ticks accepted per venue",
	}, []string{"venue"})

	// PriceTicksDroppedTotal counts malformed or rejected ticks per venue.
	PriceTicksDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_ticks_dropped_total",
		Help: "Total number of malformed or rejected price ticks per venue",
	}, []string{"venue", "reason"})

	// PriceTickAgeSeconds reports how stale the last accepted tick is, per venue.
	PriceTickAgeSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "price_tick_age_seconds",
		Help: "Age in seconds of the last accepted price tick per venue",
	}, []string{"venue"})

	// LoanTransitionsTotal counts state machine transitions.
	LoanTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_transitions_total",
		Help: "Total number of loan status transitions",
	}, []string{"from", "to"})

	// LiquidationAttemptsTotal counts lot attempts per venue and outcome.
	LiquidationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidation_attempts_total",
		Help: "Total number of liquidation lot attempts per venue and outcome",
	}, []string{"venue", "outcome"})

	// VenueRequestDuration measures venue HTTP call latency.
	VenueRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venue_request_duration_seconds",
		Help:    "Duration of outbound venue order requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue"})

	// EventsPublishedTotal counts bus publish attempts per event type and outcome.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of loan lifecycle events published",
	}, []string{"event_type", "outcome"})

	// LeaseContentionTotal counts failed lease acquisitions.
	LeaseContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidation_lease_contention_total",
		Help: "Total number of liquidation lease acquisition attempts that lost to another owner",
	})

	// HTTPRequestsTotal counts inbound API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of inbound HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration measures inbound API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of inbound HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
