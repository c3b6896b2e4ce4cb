package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/endpointrules/internal/metrics"
	"github.com/solatis/endpointrules/internal/rules"
)

type logContextKey string

const loggerKey logContextKey = "logger"

// LoggerFromContext returns the request-scoped logger, or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// RecoveryInterceptor turns a handler panic into codes.Internal. An
// InvariantViolation is an evaluator defect; it is logged with its detail and
// the stack so the offending rule-set can be found.
func RecoveryInterceptor(logger *slog.Logger, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			m.IncPanicsRecovered()

			msg := fmt.Sprintf("panic: %v", r)
			var iv *rules.InvariantViolation
			if e, ok := r.(error); ok && errors.As(e, &iv) {
				msg = iv.Error()
			}
			logger.ErrorContext(ctx, "request panicked",
				slog.String("method", info.FullMethod),
				slog.String("panic", msg),
				slog.String("stack", string(debug.Stack())),
			)
			resp, err = nil, status.Error(codes.Internal, msg)
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs each call with a request ID, method, status code
// and duration. Failed calls other than client errors log at warn.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reqLogger := logger.With(slog.String("request_id", generateRequestID()))
		ctx = context.WithValue(ctx, loggerKey, reqLogger)

		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		code := status.Code(err)
		level := slog.LevelInfo
		switch code {
		case codes.OK, codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
		default:
			level = slog.LevelWarn
		}
		reqLogger.Log(ctx, level, "request completed",
			slog.String("method", info.FullMethod),
			slog.String("status_code", code.String()),
			slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
		)
		return resp, err
	}
}

// TimeoutInterceptor bounds each call. A d of zero or less disables it.
func TimeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if d <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}
