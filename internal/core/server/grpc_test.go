package server

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/solatis/endpointrules/internal/core/api"
	"github.com/solatis/endpointrules/internal/core/auth"
	"github.com/solatis/endpointrules/internal/core/config"
	"github.com/solatis/endpointrules/internal/core/db"
	"github.com/solatis/endpointrules/internal/logging"
	"github.com/solatis/endpointrules/internal/metrics"
	"github.com/solatis/endpointrules/internal/rules"
)

const bufSize = 1 << 20

type testEnv struct {
	store   *db.Store
	client  *api.ResolverClient
	conn    *grpc.ClientConn
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

// startTestServer serves the resolver over bufconn, backed by a migrated
// sqlite store holding the example rule-set. setup builds server options that
// need the store.
func startTestServer(t *testing.T, setup ...func(*db.Store) Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.MigrateUp(ctx, database); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}
	store, err := db.NewStore(database)
	if err != nil {
		t.Fatalf("NewStore() error = %v, want nil", err)
	}
	doc, err := os.ReadFile(filepath.Join("..", "..", "rules", "testdata", "example-ruleset.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.SaveRuleSet(ctx, doc, rules.FormatJSON); err != nil {
		t.Fatalf("SaveRuleSet() error = %v, want nil", err)
	}

	logs := &bytes.Buffer{}
	logger := logging.NewWithWriter("info", "json", logs)
	m := metrics.New()
	svc, err := api.NewResolverService(store, rules.NewEngine(), m, logger)
	if err != nil {
		t.Fatalf("NewResolverService() error = %v, want nil", err)
	}

	cfg := config.DefaultResolverConfig()
	cfg.MetricsAddr = ""
	cfg.RequestTimeout = 2 * time.Second
	var opts []Option
	for _, f := range setup {
		opts = append(opts, f(store))
	}
	srv, err := NewGRPCServer(cfg, svc, m, logger, opts...)
	if err != nil {
		t.Fatalf("NewGRPCServer() error = %v, want nil", err)
	}

	lis := bufconn.Listen(bufSize)
	go srv.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v, want nil", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testEnv{store: store, client: api.NewResolverClient(conn), conn: conn, metrics: m, logs: logs}
}

func TestNewGRPCServer(t *testing.T) {
	if _, err := NewGRPCServer(nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewGRPCServer(config.DefaultResolverConfig(), nil, metrics.New(), nil); err == nil {
		t.Error("expected error for nil service")
	}
}

func TestResolveOverGRPC(t *testing.T) {
	env := startTestServer(t)
	ctx := context.Background()

	got, err := env.client.Resolve(ctx, "example", rules.Params{
		"Region":       rules.String("us-west-2"),
		"UseFIPS":      rules.Bool(true),
		"UseDualStack": rules.Bool(false),
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if got["url"] != "https://example-fips.us-west-2.amazonaws.com" {
		t.Errorf("url = %v", got["url"])
	}

	_, err = env.client.Resolve(ctx, "example", rules.Params{
		"Region":   rules.String("us-east-1"),
		"Endpoint": rules.String("https://custom.example.com"),
		"UseFIPS":  rules.Bool(true),
	})
	st, _ := status.FromError(err)
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("Resolve() code = %v, want FailedPrecondition", st.Code())
	}
	if st.Message() != "Invalid Configuration: FIPS and custom endpoint are not supported" {
		t.Errorf("Resolve() message = %q", st.Message())
	}

	_, err = env.client.Resolve(ctx, "unknown", rules.Params{})
	if status.Code(err) != codes.NotFound {
		t.Errorf("Resolve(unknown) code = %v, want NotFound", status.Code(err))
	}

	if got := testutil.ToFloat64(env.metrics.GRPCRequestsTotal.WithLabelValues("ResolveEndpoint", "OK")); got != 1 {
		t.Errorf("OK request count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.GRPCRequestsTotal.WithLabelValues("ResolveEndpoint", "NotFound")); got != 1 {
		t.Errorf("NotFound request count = %v, want 1", got)
	}
	if !strings.Contains(env.logs.String(), `"status_code":"FailedPrecondition"`) {
		t.Errorf("expected request log with status code, got:\n%s", env.logs.String())
	}
}

func TestHealth(t *testing.T) {
	env := startTestServer(t)

	resp, err := grpc_health_v1.NewHealthClient(env.conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: api.ResolverServiceDesc.ServiceName})
	if err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Check() status = %v, want SERVING", resp.GetStatus())
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	const secretID = "0123456789abcdef0123456789abcdef"
	secret := []byte("testsecret1234567890abcdefghijklmnop")
	env := startTestServer(t, func(store *db.Store) Option {
		return WithAuthenticator(auth.NewAuthenticator(map[string][]byte{secretID: secret}, store.Queries()))
	})
	ctx := context.Background()

	key, hash, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := env.store.CreateAPIKey(ctx, "sdk-ci", secretID, hash)
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v, want nil", err)
	}
	params := rules.Params{"Region": rules.String("us-east-1")}

	if _, err := env.client.Resolve(ctx, "example", params); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("Resolve() without key code = %v, want Unauthenticated", status.Code(err))
	}

	got, err := env.client.Resolve(auth.WithAPIKey(ctx, key), "example", params)
	if err != nil {
		t.Fatalf("Resolve() with key error = %v, want nil", err)
	}
	if got["url"] != "https://example.us-east-1.amazonaws.com" {
		t.Errorf("url = %v", got["url"])
	}

	keys, err := env.store.ListAPIKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || !keys[0].LastUsedAt.Valid {
		t.Errorf("ListAPIKeys() = %+v, want last_used_at recorded", keys)
	}

	resp, err := grpc_health_v1.NewHealthClient(env.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("health Check() without key = (%v, %v), want SERVING", resp.GetStatus(), err)
	}

	if err := env.store.RevokeAPIKey(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.client.Resolve(auth.WithAPIKey(ctx, key), "example", params); status.Code(err) != codes.PermissionDenied {
		t.Errorf("Resolve() with revoked key code = %v, want PermissionDenied", status.Code(err))
	}

	if got := testutil.ToFloat64(env.metrics.GRPCRequestsTotal.WithLabelValues("ResolveEndpoint", "Unauthenticated")); got != 1 {
		t.Errorf("Unauthenticated request count = %v, want 1", got)
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	logs := &bytes.Buffer{}
	m := metrics.New()
	interceptor := RecoveryInterceptor(logging.NewWithWriter("info", "json", logs), m)
	info := &grpc.UnaryServerInfo{FullMethod: api.ResolveEndpointMethod}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic(&rules.InvariantViolation{Detail: "unbound reference Region"})
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("interceptor code = %v, want Internal", status.Code(err))
	}
	if !strings.Contains(err.Error(), "unbound reference Region") {
		t.Errorf("interceptor error = %v, want invariant detail", err)
	}
	if got := testutil.ToFloat64(m.PanicsRecoveredTotal); got != 1 {
		t.Errorf("panics recovered = %v, want 1", got)
	}
	if !strings.Contains(logs.String(), "request panicked") {
		t.Errorf("expected panic log, got:\n%s", logs.String())
	}

	resp, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Errorf("interceptor passthrough = (%v, %v), want (ok, nil)", resp, err)
	}
}

func TestTimeoutInterceptor(t *testing.T) {
	interceptor := TimeoutInterceptor(50 * time.Millisecond)
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Error("handler context has no deadline")
		}
		if time.Until(deadline) > 50*time.Millisecond {
			t.Errorf("deadline too far: %v", time.Until(deadline))
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v, want nil", err)
	}

	_, _ = TimeoutInterceptor(0)(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("disabled timeout set a deadline")
		}
		return nil, nil
	})
}
