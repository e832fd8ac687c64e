package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_engine", Name: "assignments_total", Help: "Total driver assignments written"})
	AssignConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_engine", Name: "assign_conflicts_total", Help: "Assignment writes that lost the conditional update"})
	NoCandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_engine", Name: "no_candidates_total", Help: "Assignment searches that found zero qualifying drivers"})

	AcceptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_engine", Name: "accepts_total", Help: "Accept attempts by outcome"},
		[]string{"result"},
	)
	DeclinesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_engine", Name: "declines_total", Help: "Driver declines processed"})
	ReoffersTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_engine", Name: "reoffers_total", Help: "Rides re-offered to a next candidate after a decline"})

	ChargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_engine", Name: "charges_total", Help: "Charges issued by kind"},
		[]string{"kind"},
	)
	ChargeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_engine", Name: "charge_failures_total", Help: "Failed charge attempts by kind"},
		[]string{"kind"},
	)

	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_engine", Name: "location_updates_total", Help: "Driver location updates accepted over HTTP"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_engine", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_engine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
