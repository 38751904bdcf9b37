package bulwark

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for bulwark's admission and
// reliability layers. All record methods are nil-safe so instrumentation can
// stay optional. It is safe for concurrent use.
type MetricsCollector struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	rateLimitDenied    *prometheus.CounterVec
	rateLimitRemaining *prometheus.GaugeVec

	circuitState      *prometheus.GaugeVec
	circuitRejections *prometheus.CounterVec

	retriesTotal *prometheus.CounterVec

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheSize      prometheus.Gauge
	cacheEvictions prometheus.Counter

	dedupHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, which tests use to keep metrics isolated.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		callsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulwark_calls_total",
				Help: "Total number of resilient calls by outcome",
			},
			[]string{"service", "outcome"},
		),
		callDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulwark_call_duration_seconds",
				Help:    "Duration of resilient calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		rateLimitDenied: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulwark_rate_limit_denied_total",
				Help: "Total number of calls denied by the rate limiter",
			},
			[]string{"service"},
		),
		rateLimitRemaining: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bulwark_rate_limit_remaining",
				Help: "Permits remaining in the current rate limit window",
			},
			[]string{"service"},
		),
		circuitState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bulwark_circuit_breaker_state",
				Help: "Current circuit state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		circuitRejections: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulwark_circuit_breaker_rejections_total",
				Help: "Total number of calls rejected by an open circuit",
			},
			[]string{"service"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulwark_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"service", "attempt"},
		),
		cacheHits: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "bulwark_cache_hits_total",
				Help: "Total number of content cache hits",
			},
		),
		cacheMisses: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "bulwark_cache_misses_total",
				Help: "Total number of content cache misses",
			},
		),
		cacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "bulwark_cache_entries",
				Help: "Current number of entries in the content cache",
			},
		),
		cacheEvictions: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "bulwark_cache_evictions_total",
				Help: "Total number of entries removed by expiry or size pressure",
			},
		),
		dedupHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulwark_deduplication_hits_total",
				Help: "Total number of calls coalesced onto an in-flight call",
			},
			[]string{"service"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulwark_errors_total",
				Help: "Total number of errors by kind",
			},
			[]string{"kind", "service"},
		),
		registry: registry,
	}
}

// RecordCall records one finished call with its outcome label and duration.
func (mc *MetricsCollector) RecordCall(service, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.callsTotal.WithLabelValues(service, outcome).Inc()
	mc.callDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordRateLimitDenied increments the denial counter for service.
func (mc *MetricsCollector) RecordRateLimitDenied(service string) {
	if mc == nil {
		return
	}
	mc.rateLimitDenied.WithLabelValues(service).Inc()
}

// RecordRateLimitRemaining sets the remaining-permit gauge for service.
func (mc *MetricsCollector) RecordRateLimitRemaining(service string, remaining int) {
	if mc == nil {
		return
	}
	mc.rateLimitRemaining.WithLabelValues(service).Set(float64(remaining))
}

// RecordCircuitState sets the state gauge for service.
func (mc *MetricsCollector) RecordCircuitState(service string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitRejection increments the open-circuit rejection counter.
func (mc *MetricsCollector) RecordCircuitRejection(service string) {
	if mc == nil {
		return
	}
	mc.circuitRejections.WithLabelValues(service).Inc()
}

// RecordRetry increments the retry counter for an attempt number.
func (mc *MetricsCollector) RecordRetry(service string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(service, strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit() {
	if mc == nil {
		return
	}
	mc.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss() {
	if mc == nil {
		return
	}
	mc.cacheMisses.Inc()
}

// RecordCacheSize sets the cache entry gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.Set(float64(size))
}

// RecordCacheEvictions adds n to the eviction counter.
func (mc *MetricsCollector) RecordCacheEvictions(n int) {
	if mc == nil || n <= 0 {
		return
	}
	mc.cacheEvictions.Add(float64(n))
}

// RecordDeduplicationHit increments the coalesced-call counter for service.
func (mc *MetricsCollector) RecordDeduplicationHit(service string) {
	if mc == nil {
		return
	}
	mc.dedupHits.WithLabelValues(service).Inc()
}

// RecordError increments the error counter by kind.
func (mc *MetricsCollector) RecordError(kind, service string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(kind, service).Inc()
}

// Registry exposes the registerer the collector was built on.
func (mc *MetricsCollector) Registry() prometheus.Registerer {
	return mc.registry
}
