package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/endpointrules/internal/core/api"
	"github.com/solatis/endpointrules/internal/core/auth"
	"github.com/solatis/endpointrules/internal/core/config"
	"github.com/solatis/endpointrules/internal/core/db"
	"github.com/solatis/endpointrules/internal/core/server"
	"github.com/solatis/endpointrules/internal/metrics"
	"github.com/solatis/endpointrules/internal/rules"
	"github.com/solatis/endpointrules/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC endpoint resolver",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus /metrics listen address (empty disables)")
	serveCmd.Flags().Bool("require-api-key", false, "require an x-api-key header signed with ER_HMAC_SECRET")
	serveCmd.Flags().Duration("reload-interval", 0, "re-check stored rule-sets for new revisions at this interval (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if cmd.Flags().Changed("require-api-key") {
		cfg.RequireAPIKey, _ = cmd.Flags().GetBool("require-api-key")
	}
	reloadInterval, _ := cmd.Flags().GetDuration("reload-interval")

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}()

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'endpointrules migrate' first", s.ID)
		}
	}

	store, err := db.NewStore(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	partitions, err := partitionTable(cfg.PartitionsFile)
	if err != nil {
		return err
	}
	engine := rules.NewEngine(rules.WithPartitions(partitions), rules.WithCache(cfg.CacheSize))

	m := metrics.New()
	m.RegisterEngineCache(engine)

	service, err := api.NewResolverService(store, engine, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err := service.Preload(ctx, cfg.PreloadServices); err != nil {
		return err
	}

	var serverOpts []server.Option
	if cfg.RequireAPIKey {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set ER_HMAC_SECRET environment variable)")
		}
		serverOpts = append(serverOpts, server.WithAuthenticator(auth.NewAuthenticator(secrets, store.Queries())))
	}

	grpcServer, err := server.NewGRPCServer(cfg, service, m, logger, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if reloadInterval > 0 {
		go reloadLoop(ctx, service, reloadInterval)
	}

	logger.Info("starting endpoint resolver",
		slog.String("version", Version),
		slog.String("addr", cfg.Addr()),
		slog.Int("cache_size", cfg.CacheSize),
		slog.Bool("require_api_key", cfg.RequireAPIKey),
		slog.Any("partitions", partitions.Partitions()),
	)
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	}
}

func reloadLoop(ctx context.Context, service *api.ResolverService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Per-service failures are logged by ReloadAll.
			_ = service.ReloadAll(ctx)
		}
	}
}
