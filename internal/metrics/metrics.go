// Package metrics exposes the gate's runtime counters and gauges via
// prometheus/client_golang: decision outcomes, denial codes, cache
// freshness, and receipt issuance.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the gate emits during verification,
// session handling, and receipt issuance.
type Registry struct {
	registry *prometheus.Registry

	VerificationsTotal  *prometheus.CounterVec
	DenialsTotal        *prometheus.CounterVec
	PipelineDuration    *prometheus.HistogramVec
	CacheStaleTotal     *prometheus.CounterVec
	CacheLayerTotal     *prometheus.CounterVec
	RateLimitHitsTotal  *prometheus.CounterVec
	ReceiptsIssuedTotal *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
}

// New registers and returns every metric against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		VerificationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate",
			Name:      "verifications_total",
			Help:      "Total verification pipeline runs, labeled by action and decision.",
		}, []string{"action", "decision"}),
		DenialsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate",
			Name:      "denials_total",
			Help:      "Total denials, labeled by action and denial code.",
		}, []string{"action", "code"}),
		PipelineDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gate",
			Name:      "pipeline_duration_seconds",
			Help:      "Verification pipeline latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		CacheStaleTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate",
			Name:      "cache_stale_total",
			Help:      "Verifications that consulted at least one stale cache entry, labeled by cache kind.",
		}, []string{"kind"}),
		CacheLayerTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate",
			Name:      "cache_layer_total",
			Help:      "L2 (Redis) cache lookups for fleet-shared snapshot mirroring, labeled by outcome (hit/miss).",
		}, []string{"outcome"}),
		RateLimitHitsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter, labeled by action.",
		}, []string{"action"}),
		ReceiptsIssuedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate",
			Name:      "receipts_issued_total",
			Help:      "Consumption receipts issued, labeled by permission key.",
		}, []string{"permission_key"}),
		ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "gate",
			Name:      "active_sessions",
			Help:      "Number of sessions currently tracked in the session store.",
		}),
	}
	return r
}

// Handler returns the Prometheus scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveDecision records one pipeline outcome.
func (r *Registry) ObserveDecision(action, decision string, seconds float64) {
	r.VerificationsTotal.WithLabelValues(action, decision).Inc()
	r.PipelineDuration.WithLabelValues(action).Observe(seconds)
}

// ObserveDenial records a denial's reason code.
func (r *Registry) ObserveDenial(action, code string) {
	r.DenialsTotal.WithLabelValues(action, code).Inc()
}

// ObserveStaleCache records that a verification relied on a stale snapshot
// of the given cache kind ("catalog", "revocations", "issuer_keys").
func (r *Registry) ObserveStaleCache(kind string) {
	r.CacheStaleTotal.WithLabelValues(kind).Inc()
}

// ObserveCacheLayer records an L2 lookup outcome ("hit" or "miss") from the
// distributed cache layer.
func (r *Registry) ObserveCacheLayer(outcome string) {
	r.CacheLayerTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitHit records a rejection by the rate limiter.
func (r *Registry) ObserveRateLimitHit(action string) {
	r.RateLimitHitsTotal.WithLabelValues(action).Inc()
}

// ObserveReceiptIssued records a successfully issued receipt.
func (r *Registry) ObserveReceiptIssued(permissionKey string) {
	r.ReceiptsIssuedTotal.WithLabelValues(permissionKey).Inc()
}
