package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/endpointrules/internal/core/db"
	"github.com/solatis/endpointrules/internal/logging"
	"github.com/solatis/endpointrules/internal/rules"
)

// Version is the CLI and server version.
const Version = "0.1.0"

var (
	configFile     string
	dbURL          string
	logLevel       string
	logFormat      string
	partitionsFile string
)

var rootCmd = &cobra.Command{
	Use:          "endpointrules",
	Short:        "Endpoint rule-set evaluation engine",
	Long:         `endpointrules loads, typechecks and evaluates declarative endpoint rule-sets, and serves resolution over gRPC.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(logging.New(logLevel, logFormat))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&partitionsFile, "partitions", "", "partition table JSON file (default: built-in table)")
}

func Execute() error {
	return rootCmd.Execute()
}

// partitionTable loads --partitions, then fallback, then the built-in table.
func partitionTable(fallback string) (*rules.PartitionTable, error) {
	path := partitionsFile
	if path == "" {
		path = fallback
	}
	if path == "" {
		return rules.DefaultPartitions(), nil
	}
	t, err := rules.LoadPartitionFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load partitions: %w", err)
	}
	return t, nil
}

// openDatabase opens --db-url. The caller closes the handle.
func openDatabase(ctx context.Context) (*sqlx.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("--db-url required")
	}
	database, err := db.Open(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// openStore opens --db-url and wraps it in a Store.
func openStore(ctx context.Context) (*db.Store, func(), error) {
	database, err := openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, err := db.NewStore(database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return store, func() { database.Close() }, nil
}
