// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the pipeline's Prometheus metrics. All record methods
// are safe on a nil receiver so instrumentation stays optional in tests.
type Collector struct {
	registry *prometheus.Registry

	apiRequests    *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	retries        prometheus.Counter
	rateLimited    prometheus.Counter
}

// NewCollector creates and registers the pipeline metrics on a fresh
// registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "octoflux_api_requests_total",
			Help: "Remote API requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "octoflux_request_duration_seconds",
			Help:    "Latency of pipeline operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octoflux_cache_hits_total",
			Help: "Result cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octoflux_cache_misses_total",
			Help: "Result cache misses.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octoflux_transport_retries_total",
			Help: "Transient faults that triggered a transport retry.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "octoflux_rate_limited_total",
			Help: "Requests refused by the cooldown gate.",
		}),
	}

	c.registry.MustRegister(
		c.apiRequests,
		c.requestLatency,
		c.cacheHits,
		c.cacheMisses,
		c.retries,
		c.rateLimited,
	)
	return c
}

// Registry returns the registry the collector's metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRequest counts one remote API call.
func (c *Collector) RecordRequest(operation, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(operation, outcome).Inc()
	c.requestLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordCacheHit counts one result-cache hit.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss counts one result-cache miss.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordRetry counts one transient fault that led to a retry attempt.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

// RecordRateLimited counts one refusal by the cooldown gate.
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}
