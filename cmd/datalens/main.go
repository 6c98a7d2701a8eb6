package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/datalens-labs/datalens/pkg/logger"
	"github.com/datalens-labs/datalens/pkg/metrics"
	"github.com/datalens-labs/datalens/pkg/server"
	"github.com/datalens-labs/datalens/pkg/store"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultListenAddr = "0.0.0.0:8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on (or set LISTEN_ADDR env var)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 10*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")
	maxUploadBytesFlag := flag.Int64("max-upload-bytes", server.DefaultMaxUploadBytes, "Maximum accepted upload body size in bytes")
	sampleSizeFlag := flag.Int("sample-size", 0, "Rows sampled for schema inference (0 = default)")
	cacheTTLFlag := flag.Duration("cache-ttl", time.Minute, "TTL for cached aggregation results")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "datalens", "PostgreSQL database name (or set POSTGRES_DATABASE env var)")
	pgUsernameFlag := flag.String("pg-username", "datalens", "PostgreSQL username (or set POSTGRES_USERNAME env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode (or set POSTGRES_SSLMODE env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run database migrations using goose and exit")

	flag.Parse()

	// .env is optional in development
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if envListenAddr := os.Getenv("LISTEN_ADDR"); envListenAddr != "" {
		*listenAddrFlag = envListenAddr
	}

	// Override PostgreSQL flags with environment variables if set
	if envPgHost := os.Getenv("POSTGRES_HOST"); envPgHost != "" {
		*pgHostFlag = envPgHost
	}
	if envPgPort := os.Getenv("POSTGRES_PORT"); envPgPort != "" {
		*pgPortFlag = envPgPort
	}
	if envPgDatabase := os.Getenv("POSTGRES_DATABASE"); envPgDatabase != "" {
		*pgDatabaseFlag = envPgDatabase
	}
	if envPgUsername := os.Getenv("POSTGRES_USERNAME"); envPgUsername != "" {
		*pgUsernameFlag = envPgUsername
	}
	if envPgPassword := os.Getenv("POSTGRES_PASSWORD"); envPgPassword != "" {
		*pgPasswordFlag = envPgPassword
	}
	if envPgSSLMode := os.Getenv("POSTGRES_SSLMODE"); envPgSSLMode != "" {
		*pgSSLModeFlag = envPgSSLMode
	}

	pgCfg := store.PgConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	if err := pgCfg.Validate(); err != nil {
		return err
	}

	if *pgMigrateFlag {
		return store.RunMigrations(log, pgCfg.ConnString())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := store.NewPool(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	pg, err := store.NewPostgres(store.PostgresConfig{Logger: log, Pool: pool})
	if err != nil {
		return err
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	srv, err := server.New(server.Config{
		Logger:            log,
		Store:             pg,
		ListenAddr:        *listenAddrFlag,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   *shutdownTimeoutFlag,
		VersionInfo:       server.VersionInfo{Version: version, Commit: commit, Date: date},
		MaxUploadBytes:    *maxUploadBytesFlag,
		SampleSize:        *sampleSizeFlag,
		CacheTTL:          *cacheTTLFlag,
	})
	if err != nil {
		return err
	}

	log.Info("starting datalens", "version", version, "commit", commit, "address", *listenAddrFlag)
	return srv.Run(ctx)
}
