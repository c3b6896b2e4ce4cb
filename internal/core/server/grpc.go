// Package server provides gRPC server lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/endpointrules/internal/core/api"
	"github.com/solatis/endpointrules/internal/core/auth"
	"github.com/solatis/endpointrules/internal/core/config"
	"github.com/solatis/endpointrules/internal/metrics"
)

const (
	shutdownTimeout          = 30 * time.Second
	metricsReadHeaderTimeout = 5 * time.Second
)

// GRPCServer manages the resolver's gRPC server and its /metrics listener.
type GRPCServer struct {
	server  *grpc.Server
	health  *health.Server
	metrics *http.Server
	config  *config.ResolverConfig
	logger  *slog.Logger
}

// Option configures optional parts of the server.
type Option func(*options)

type options struct {
	authenticator *auth.Authenticator
}

// WithAuthenticator requires a valid API key on every call except health checks.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(o *options) { o.authenticator = a }
}

// NewGRPCServer creates the gRPC server with the interceptor chain and
// registers the resolver and health services.
func NewGRPCServer(cfg *config.ResolverConfig, service *api.ResolverService, m *metrics.Metrics, logger *slog.Logger, opts ...Option) (*GRPCServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Recovery is outermost so panics anywhere below still get logged and
	// counted by the interceptors it wraps. Authentication sits inside metrics
	// so rejected calls are counted by status code.
	interceptors := []grpc.UnaryServerInterceptor{
		RecoveryInterceptor(logger, m),
		LoggingInterceptor(logger),
		m.UnaryServerInterceptor(),
	}
	if o.authenticator != nil {
		interceptors = append(interceptors, o.authenticator.UnaryInterceptor())
	}
	interceptors = append(interceptors, TimeoutInterceptor(cfg.RequestTimeout))

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	server.RegisterService(&api.ResolverServiceDesc, service)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(api.ResolverServiceDesc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	s := &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
		logger: logger,
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		s.metrics = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: metricsReadHeaderTimeout,
		}
	}
	return s, nil
}

// Start binds both listeners and serves until Shutdown is called or either
// server fails.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	errCh := make(chan error, 2)
	if s.metrics != nil {
		metricsListener, err := net.Listen("tcp", s.metrics.Addr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to bind metrics %s: %w", s.metrics.Addr, err)
		}
		go func() {
			if err := s.metrics.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve metrics: %w", err)
			}
		}()
		s.logger.InfoContext(ctx, "metrics listening", slog.String("addr", s.metrics.Addr))
	}

	go func() {
		errCh <- s.Serve(listener)
	}()
	s.logger.InfoContext(ctx, "resolver listening", slog.String("addr", addr))
	return <-errCh
}

// Serve serves gRPC on an existing listener.
func (s *GRPCServer) Serve(listener net.Listener) error {
	return s.server.Serve(listener)
}

// Shutdown marks the server NOT_SERVING, drains in-flight requests and stops
// the metrics listener. After shutdownTimeout or ctx cancellation the gRPC
// server is stopped forcefully.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	if s.metrics != nil {
		httpCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := s.metrics.Shutdown(httpCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(shutdownTimeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
