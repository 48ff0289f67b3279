// Package metrics exposes the core's operational counters and
// histograms through the default Prometheus registry, replacing the
// hand-rolled text exposition format the teacher used.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RideRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_requests_total",
		Help: "Total ride requests accepted by the API, by outcome.",
	}, []string{"outcome"})

	RideTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_transitions_total",
		Help: "Total ride state machine transitions, by resulting status.",
	}, []string{"status"})

	RideErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_errors_total",
		Help: "Total ride.Error returns from the core, by kind.",
	}, []string{"kind"})

	DispatchMatchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_match_duration_seconds",
		Help:    "Time from dispatch start to an offer being sent to a candidate captain.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	DispatchAcceptSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_accept_duration_seconds",
		Help:    "Time from dispatch start to passenger-visible acceptance.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~400s
	})

	DispatchRadiusExpansions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_radius_expansions",
		Help:    "Number of radius expansions a DispatchProcess made before giving up.",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 6},
	})

	DispatchNotApprovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_not_approved_total",
		Help: "Total dispatches that exhausted every radius without a captain accepting.",
	})

	ActiveDispatchesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_active_processes",
		Help: "Number of DispatchProcess instances currently running in this process.",
	})

	WebsocketConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_websocket_connections",
		Help: "Number of live principal websocket connections held by this process.",
	})

	SweeperReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_reclaimed_dispatches_total",
		Help: "Total orphaned requested rides the sweeper restarted dispatch for.",
	})

	SweeperPrunedLocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweeper_pruned_locations_total",
		Help: "Total stale captain geo-index entries the sweeper evicted.",
	})

	StoreBreakerStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ride_store_breaker_state",
		Help: "Ride store circuit breaker state (0=closed, 0.5=half-open, 1=open).",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// ObserveDispatchMatch records the time elapsed since started when a
// candidate captain is offered a ride.
func ObserveDispatchMatch(started time.Time) {
	DispatchMatchSeconds.Observe(time.Since(started).Seconds())
}

// ObserveDispatchAccept records the time elapsed since started when a
// passenger-visible acceptance lands.
func ObserveDispatchAccept(started time.Time) {
	DispatchAcceptSeconds.Observe(time.Since(started).Seconds())
}
