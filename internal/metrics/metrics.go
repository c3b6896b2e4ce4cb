// Package metrics provides Prometheus instrumentation for the endpoint
// resolver.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only resolver metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/solatis/endpointrules/internal/rules"
	"github.com/solatis/endpointrules/internal/types"
)

// Resolution outcomes used as the "outcome" label.
const (
	OutcomeEndpoint     = "endpoint"
	OutcomeErrorRule    = "error_rule"
	OutcomeNoMatch      = "no_match"
	OutcomeInvalidInput = "invalid_input"
	OutcomeInternal     = "internal"
)

// Metrics holds all Prometheus collectors used by the resolver.
type Metrics struct {
	Registry *prometheus.Registry

	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	ResolutionsTotal     *prometheus.CounterVec
	ResolutionDuration   *prometheus.HistogramVec
	RuleSetLoadsTotal    *prometheus.CounterVec
	CompiledRuleSets     prometheus.Gauge
	PanicsRecoveredTotal prometheus.Counter
}

// New creates and registers all resolver metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "endpointrules_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "endpointrules_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "endpointrules_resolutions_total",
			Help: "Total number of endpoint resolutions by terminal outcome.",
		}, []string{"service", "outcome"}),

		// Evaluation is in-memory; buckets start at 10µs.
		ResolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "endpointrules_resolution_duration_seconds",
			Help:    "Rule-set evaluation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"service"}),

		RuleSetLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "endpointrules_ruleset_loads_total",
			Help: "Total number of rule-set compilations from the store.",
		}, []string{"result"}),

		CompiledRuleSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "endpointrules_compiled_rulesets",
			Help: "Number of compiled rule-sets held in memory.",
		}),

		PanicsRecoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "endpointrules_panics_recovered_total",
			Help: "Total number of request panics recovered by the server.",
		}),
	}

	reg.MustRegister(
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.RuleSetLoadsTotal,
		m.CompiledRuleSets,
		m.PanicsRecoveredTotal,
	)

	return m
}

// RegisterEngineCache exposes an engine's result cache counters. The values
// are read at scrape time.
func (m *Metrics) RegisterEngineCache(e *rules.Engine) {
	m.Registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "endpointrules_cache_hits_total",
			Help: "Total number of resolution result cache hits.",
		}, func() float64 { return float64(e.CacheStats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "endpointrules_cache_misses_total",
			Help: "Total number of resolution result cache misses.",
		}, func() float64 { return float64(e.CacheStats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "endpointrules_cache_entries",
			Help: "Number of entries in the resolution result cache.",
		}, func() float64 { return float64(e.CacheStats().Entries) }),
	)
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		code := status.Code(err).String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// ObserveResolution records one evaluation of serviceID's rule-set.
func (m *Metrics) ObserveResolution(serviceID, outcome string, d time.Duration) {
	m.ResolutionsTotal.WithLabelValues(serviceID, outcome).Inc()
	m.ResolutionDuration.WithLabelValues(serviceID).Observe(d.Seconds())
}

// RecordRuleSetLoad counts a compilation attempt.
func (m *Metrics) RecordRuleSetLoad(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.RuleSetLoadsTotal.WithLabelValues(result).Inc()
}

// SetCompiledRuleSets updates the compiled rule-set gauge.
func (m *Metrics) SetCompiledRuleSets(n int) {
	m.CompiledRuleSets.Set(float64(n))
}

// IncPanicsRecovered increments the recovered panic counter.
func (m *Metrics) IncPanicsRecovered() {
	m.PanicsRecoveredTotal.Inc()
}

// Outcome classifies a resolution error for the "outcome" label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeEndpoint
	case errors.Is(err, types.ErrEndpointError):
		return OutcomeErrorRule
	case errors.Is(err, types.ErrNoRulesMatched):
		return OutcomeNoMatch
	case errors.Is(err, types.ErrMissingParameter), errors.Is(err, types.ErrInvalidParameter):
		return OutcomeInvalidInput
	default:
		return OutcomeInternal
	}
}
