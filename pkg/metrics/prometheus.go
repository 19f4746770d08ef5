package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records data-layer and decision metrics in Prometheus.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry         *prometheus.Registry
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	validationDrops  *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	analystRuns      *prometheus.CounterVec
}

// New creates a recorder registered on its own registry
func New() *Recorder {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		providerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedgefund_provider_requests_total",
				Help: "Provider calls by provider, operation and outcome",
			},
			[]string{"provider", "op", "outcome"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hedgefund_provider_latency_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "op"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedgefund_cache_lookups_total",
				Help: "Cache lookups by data type and result",
			},
			[]string{"data_type", "result"},
		),
		validationDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedgefund_validation_dropped_total",
				Help: "Records dropped by validation, by data type",
			},
			[]string{"data_type"},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedgefund_decisions_total",
				Help: "Final decisions by action",
			},
			[]string{"action"},
		),
		analystRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hedgefund_analyst_runs_total",
				Help: "Analyst node completions by analyst and outcome",
			},
			[]string{"analyst", "outcome"},
		),
	}
}

// Registry exposes the registry for the /metrics handler
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordProviderCall records one provider invocation
func (r *Recorder) RecordProviderCall(provider, op, outcome string, latency time.Duration) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(provider, op, outcome).Inc()
	r.providerLatency.WithLabelValues(provider, op).Observe(latency.Seconds())
}

// RecordCache records a cache hit or miss
func (r *Recorder) RecordCache(dataType string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(dataType, result).Inc()
}

// RecordValidationDrops records n dropped records
func (r *Recorder) RecordValidationDrops(dataType string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.validationDrops.WithLabelValues(dataType).Add(float64(n))
}

// RecordDecision records a final decision
func (r *Recorder) RecordDecision(action string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(action).Inc()
}

// RecordAnalystRun records an analyst completion (ok, error, timeout)
func (r *Recorder) RecordAnalystRun(analyst, outcome string) {
	if r == nil {
		return
	}
	r.analystRuns.WithLabelValues(analyst, outcome).Inc()
}
