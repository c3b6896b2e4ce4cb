// Package api provides the gRPC endpoint resolver service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solatis/endpointrules/internal/core/auth"
	"github.com/solatis/endpointrules/internal/core/db"
	"github.com/solatis/endpointrules/internal/metrics"
	"github.com/solatis/endpointrules/internal/rules"
	"github.com/solatis/endpointrules/internal/tracing"
)

// RuleSetSource supplies the newest stored revision of a service's rule-set.
// *db.Store implements it.
type RuleSetSource interface {
	LatestRuleSet(ctx context.Context, serviceID string) (db.RuleSetRecord, error)
}

// compiled is a loaded rule-set and the checksum of the revision it came from.
type compiled struct {
	checksum string
	rs       *rules.RuleSet
}

// ResolverService resolves endpoints for stored rule-sets.
//
// Rule-sets are compiled on first use and held per service until Reload
// observes a different checksum in the source. Compiled rule-sets are
// immutable and shared across requests.
type ResolverService struct {
	source  RuleSetSource
	engine  *rules.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	mu       sync.RWMutex
	compiled map[string]compiled
}

// NewResolverService creates a service backed by source. A nil m gets a
// private registry and a nil logger falls back to slog.Default().
func NewResolverService(source RuleSetSource, engine *rules.Engine, m *metrics.Metrics, logger *slog.Logger) (*ResolverService, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolverService{
		source:   source,
		engine:   engine,
		metrics:  m,
		logger:   logger,
		tracer:   tracing.Tracer(),
		compiled: make(map[string]compiled),
	}, nil
}

// Resolve evaluates serviceID's rule-set against params. builtins fill
// parameters that declare a builtIn and were not supplied; it may be nil.
func (s *ResolverService) Resolve(ctx context.Context, serviceID string, params rules.Params, builtins map[string]rules.Value) (rules.ResolvedEndpoint, error) {
	ctx, span := s.tracer.Start(ctx, "ResolverService.Resolve",
		trace.WithAttributes(attribute.String("endpointrules.service_id", serviceID)))
	defer span.End()
	if client := auth.ClientFromContext(ctx); client != "" {
		span.SetAttributes(attribute.String("endpointrules.client", client))
	}

	rs, err := s.ruleSet(ctx, serviceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "rule-set unavailable")
		return rules.ResolvedEndpoint{}, err
	}
	if len(builtins) > 0 {
		params = rs.BindBuiltIns(builtins, params)
	}

	start := time.Now()
	ep, err := s.engine.Resolve(rs, params)
	outcome := metrics.Outcome(err)
	s.metrics.ObserveResolution(serviceID, outcome, time.Since(start))

	span.SetAttributes(attribute.String("endpointrules.outcome", outcome))
	if err != nil {
		s.logger.DebugContext(ctx, "resolution failed",
			slog.String("service_id", serviceID),
			slog.String("client", auth.ClientFromContext(ctx)),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		return rules.ResolvedEndpoint{}, err
	}
	span.SetAttributes(attribute.String("endpointrules.url", ep.URL))
	return ep, nil
}

// ruleSet returns the compiled rule-set for serviceID, compiling it on first
// use.
func (s *ResolverService) ruleSet(ctx context.Context, serviceID string) (*rules.RuleSet, error) {
	s.mu.RLock()
	c, ok := s.compiled[serviceID]
	s.mu.RUnlock()
	if ok {
		return c.rs, nil
	}
	if _, err := s.Reload(ctx, serviceID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	c = s.compiled[serviceID]
	s.mu.RUnlock()
	return c.rs, nil
}

// Reload fetches the newest revision of serviceID and swaps it in when its
// checksum differs from the compiled one. It reports whether a swap happened.
func (s *ResolverService) Reload(ctx context.Context, serviceID string) (bool, error) {
	rec, err := s.source.LatestRuleSet(ctx, serviceID)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	current, ok := s.compiled[serviceID]
	s.mu.RUnlock()
	if ok && current.checksum == rec.Checksum {
		return false, nil
	}

	rs, err := rec.Compile()
	s.metrics.RecordRuleSetLoad(err == nil)
	if err != nil {
		// Stored revisions were validated on import; failing here means the
		// loader got stricter since.
		s.logger.ErrorContext(ctx, "stored rule-set no longer compiles",
			slog.String("service_id", serviceID),
			slog.String("ruleset_id", string(rec.ID)),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("compile rule-set %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	s.compiled[serviceID] = compiled{checksum: rec.Checksum, rs: rs}
	n := len(s.compiled)
	s.mu.Unlock()
	s.metrics.SetCompiledRuleSets(n)

	s.logger.InfoContext(ctx, "rule-set loaded",
		slog.String("service_id", serviceID),
		slog.String("ruleset_id", string(rec.ID)),
		slog.String("checksum", rec.Checksum),
	)
	return true, nil
}

// ReloadAll re-checks every compiled service. Errors are logged per service
// and the first one is returned after all services were tried.
func (s *ResolverService) ReloadAll(ctx context.Context) error {
	s.mu.RLock()
	services := make([]string, 0, len(s.compiled))
	for id := range s.compiled {
		services = append(services, id)
	}
	s.mu.RUnlock()

	var first error
	for _, id := range services {
		if _, err := s.Reload(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "reload failed", slog.String("service_id", id), slog.String("error", err.Error()))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Preload compiles the given services up front so the first request does
// not pay for it.
func (s *ResolverService) Preload(ctx context.Context, serviceIDs []string) error {
	for _, id := range serviceIDs {
		if _, err := s.Reload(ctx, id); err != nil {
			return fmt.Errorf("preload %q: %w", id, err)
		}
	}
	return nil
}
