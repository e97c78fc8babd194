// Package metrics exposes the Prometheus surface described in spec §6:
// counters for total/allowed/rejected/banned/errored requests, histograms
// for check and limiter durations, and gauges for quota usage, concurrency,
// and per-algorithm internal state. Grounded on the teacher's
// pkg/metrics/prometheus.go, generalized from its package-level global vars
// + idempotent RegisterMetrics() into a constructor-injected Collector so
// multiple Governor instances (and tests) don't collide on the default
// registerer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every flowguard metric vector, registered against a
// caller-supplied prometheus.Registerer.
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	checkDuration    *prometheus.HistogramVec
	limiterDuration  *prometheus.HistogramVec
	quotaUsage       *prometheus.GaugeVec
	concurrencyInUse *prometheus.GaugeVec
	algorithmGauge   *prometheus.GaugeVec
}

// NewCollector creates and registers flowguard's metric vectors against reg.
// Pass prometheus.NewRegistry() in tests to avoid the default global
// registerer's duplicate-registration panics across test cases.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_requests_total",
			Help: "Total number of admission requests by outcome.",
		}, []string{"outcome"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowguard_errors_total",
			Help: "Total number of errors encountered while checking a request.",
		}, []string{"component", "kind"}),

		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowguard_check_duration_seconds",
			Help:    "Duration of a full Governor.Check call.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us .. ~400ms
		}, []string{"outcome"}),

		limiterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowguard_limiter_duration_seconds",
			Help:    "Duration of an individual limiter node's Execute call.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us .. ~80ms
		}, []string{"kind"}),

		quotaUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowguard_quota_usage_ratio",
			Help: "Fraction of quota consumed within the current window, including overdraft.",
		}, []string{"quota_type"}),

		concurrencyInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowguard_concurrency_permits_in_use",
			Help: "Number of concurrency permits currently held.",
		}, []string{"rule_id"}),

		algorithmGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowguard_limiter_internal_count",
			Help: "Algorithm-specific internal count (e.g. tokens remaining, window count).",
		}, []string{"kind", "metric"}),
	}

	reg.MustRegister(
		c.requestsTotal,
		c.errorsTotal,
		c.checkDuration,
		c.limiterDuration,
		c.quotaUsage,
		c.concurrencyInUse,
		c.algorithmGauge,
	)
	return c
}

// RecordOutcome increments the total-requests-by-outcome counter. outcome is
// one of "allowed", "rejected", "banned".
func (c *Collector) RecordOutcome(outcome string) {
	c.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordError increments the errors counter for a failing component/kind pair.
func (c *Collector) RecordError(component, kind string) {
	c.errorsTotal.WithLabelValues(component, kind).Inc()
}

// ObserveCheckDuration records how long a full Check call took.
func (c *Collector) ObserveCheckDuration(outcome string, d time.Duration) {
	c.checkDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveLimiterDuration records how long a single limiter node took.
func (c *Collector) ObserveLimiterDuration(kind string, d time.Duration) {
	c.limiterDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetQuotaUsage reports the current consumed/limit ratio for a quota type.
func (c *Collector) SetQuotaUsage(quotaType string, ratio float64) {
	c.quotaUsage.WithLabelValues(quotaType).Set(ratio)
}

// SetConcurrencyInUse reports how many permits a rule's concurrency limiter
// currently holds.
func (c *Collector) SetConcurrencyInUse(ruleID string, inUse float64) {
	c.concurrencyInUse.WithLabelValues(ruleID).Set(inUse)
}

// SetAlgorithmMetric reports an algorithm-internal gauge, e.g.
// SetAlgorithmMetric("token_bucket", "tokens_remaining", 42).
func (c *Collector) SetAlgorithmMetric(kind, metric string, value float64) {
	c.algorithmGauge.WithLabelValues(kind, metric).Set(value)
}

// Timer measures and records a single duration observation on Stop.
type Timer struct {
	start time.Time
	obs   func(time.Duration)
}

// NewCheckTimer starts a timer that records to checkDuration on Stop.
func (c *Collector) NewCheckTimer(outcome string) *Timer {
	return &Timer{start: time.Now(), obs: func(d time.Duration) { c.ObserveCheckDuration(outcome, d) }}
}

// NewLimiterTimer starts a timer that records to limiterDuration on Stop.
func (c *Collector) NewLimiterTimer(kind string) *Timer {
	return &Timer{start: time.Now(), obs: func(d time.Duration) { c.ObserveLimiterDuration(kind, d) }}
}

// Stop records the elapsed duration since the timer was started.
func (t *Timer) Stop() { t.obs(time.Since(t.start)) }
