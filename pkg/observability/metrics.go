// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the federation core's operations.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ChainBuildBuckets suits trust-chain builds: a handful of sequential
// HTTP round trips up the authority-hint graph, typically well under 10s.
var ChainBuildBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// HTTPRequestsTotal counts all HTTP requests served by the demo
	// binary, by method, status class and path.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rp_http_requests_total",
			Help: "Total requests served",
		},
		[]string{"method", "status", "path"},
	)

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rp_http_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ChainBuildBuckets,
		},
		[]string{"method", "path"},
	)

	// TrustChainBuildTotal counts trust-chain builds by outcome.
	TrustChainBuildTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustchain_build_total",
			Help: "Trust chain builds by result",
		},
		[]string{"result"},
	)

	// TrustChainBuildDuration records build latency in seconds.
	TrustChainBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustchain_build_duration_seconds",
			Help:    "Trust chain build duration",
			Buckets: ChainBuildBuckets,
		},
		[]string{},
	)

	// EntityFetchTotal counts remote entity configuration/statement
	// fetches by outcome.
	EntityFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_fetch_total",
			Help: "Entity configuration/statement fetches",
		},
		[]string{"status"},
	)

	// JWKSFetchTotal counts jwks_uri dereferences by outcome.
	JWKSFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwks_fetch_total",
			Help: "jwks_uri fetches",
		},
		[]string{"status"},
	)

	// EntityCacheHitTotal counts entity info cache hits.
	EntityCacheHitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycache_hit_total",
			Help: "Entity info cache hits",
		},
		[]string{},
	)

	// EntityCacheMissTotal counts entity info cache misses.
	EntityCacheMissTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycache_miss_total",
			Help: "Entity info cache misses",
		},
		[]string{},
	)

	// AuthorizeRequestsTotal counts GetAuthorizeURL calls by profile.
	AuthorizeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorize_requests_total",
			Help: "Authorize URL requests by profile",
		},
		[]string{"profile"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TrustChainBuildTotal,
		TrustChainBuildDuration,
		EntityFetchTotal,
		JWKSFetchTotal,
		EntityCacheHitTotal,
		EntityCacheMissTotal,
		AuthorizeRequestsTotal,
	)
}
