package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openchain_upstream_requests_total",
		Help: "Upstream API requests by endpoint and status class",
	}, []string{"endpoint", "status"})
	UpstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openchain_upstream_retries_total",
		Help: "Upstream retry attempts",
	}, []string{"endpoint"})
	CredentialRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openchain_credential_rotations_total",
		Help: "Credential invalidations caused by rate limiting",
	})
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openchain_cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openchain_cache_evictions_total",
		Help: "Entries dropped by capacity eviction or expiry sweep",
	})
	RecommendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openchain_recommend_duration_seconds",
		Help:    "Recommendation request duration seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"pair"})
	RecommendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openchain_recommend_errors_total",
		Help: "Failed recommendation requests by error kind",
	}, []string{"kind"})
	CandidatesScored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openchain_candidates_scored_total",
		Help: "Candidates scored by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		UpstreamRequests, UpstreamRetries, CredentialRotations,
		CacheLookups, CacheEvictions,
		RecommendDuration, RecommendErrors, CandidatesScored,
	)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveRecommend records a recommendation run for a subject/find pair.
func ObserveRecommend(pair string, start time.Time) {
	RecommendDuration.WithLabelValues(pair).Observe(time.Since(start).Seconds())
}

// IncUpstream counts one upstream response. status is a class like "2xx" or "error".
func IncUpstream(endpoint, status string) {
	UpstreamRequests.WithLabelValues(endpoint, status).Inc()
}

// IncRetry increments the retry counter for an endpoint.
func IncRetry(endpoint string) { UpstreamRetries.WithLabelValues(endpoint).Inc() }

// IncCache records a cache hit or miss.
func IncCache(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

// StatusClass buckets an HTTP status code.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "error"
}
