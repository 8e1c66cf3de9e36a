package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Issuance metrics
	CredentialsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridex_credentials_issued_total",
			Help: "Total number of credentials issued by issuer instance",
		},
		[]string{"issuer"},
	)

	IssuanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veridex_issuance_duration_seconds",
			Help:    "Credential issuance duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DuplicateRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veridex_issuance_duplicate_retries_total",
			Help: "Total number of issuance retries caused by duplicate status list indexes",
		},
	)

	// Allocator metrics
	ShardConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veridex_shard_conflicts_total",
			Help: "Total number of CAS or duplicate conflicts during shard selection",
		},
	)

	ShardReuseHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veridex_shard_reuse_hits_total",
			Help: "Total number of issuances served from the shard reuse queue",
		},
	)

	ListRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veridex_list_rotations_total",
			Help: "Total number of fully assigned status lists rotated to inactive",
		},
	)

	CapacityAddsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veridex_capacity_adds_total",
			Help: "Total number of status lists activated to add capacity",
		},
	)

	ActiveListsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "veridex_active_lists",
			Help: "Number of active status lists by allocator",
		},
		[]string{"allocator"},
	)

	// Status list metrics
	ListsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veridex_lists_published_total",
			Help: "Total number of status list credential publications",
		},
	)

	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridex_status_updates_total",
			Help: "Total number of credential status updates by purpose",
		},
		[]string{"purpose"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridex_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veridex_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RegisterAll registers all metrics with the default Prometheus registry.
// Call once at service start.
func RegisterAll() {
	prometheus.MustRegister(
		CredentialsIssuedTotal,
		IssuanceDuration,
		DuplicateRetriesTotal,
		ShardConflictsTotal,
		ShardReuseHitsTotal,
		ListRotationsTotal,
		CapacityAddsTotal,
		ActiveListsGauge,
		ListsPublishedTotal,
		StatusUpdatesTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
