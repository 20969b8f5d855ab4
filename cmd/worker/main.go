package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/vaultflow/service/config"
	"github.com/brojonat/vaultflow/service/db"
	"github.com/brojonat/vaultflow/service/engine"
	"github.com/brojonat/vaultflow/service/metrics"
	natspkg "github.com/brojonat/vaultflow/service/nats"
	"github.com/brojonat/vaultflow/service/server"
	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/brojonat/vaultflow/service/temporal"
	"github.com/brojonat/vaultflow/service/vault"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Parse program addresses
	vaultProgram, err := solanago.PublicKeyFromBase58(cfg.VaultProgramID)
	if err != nil {
		logger.Error("invalid VAULT_PROGRAM_ID", "error", err)
		os.Exit(1)
	}
	farmsProgram, err := solanago.PublicKeyFromBase58(cfg.FarmsProgramID)
	if err != nil {
		logger.Error("invalid FARMS_PROGRAM_ID", "error", err)
		os.Exit(1)
	}

	// Initialize Solana RPC client
	chainClient := chainsol.NewClient(
		chainsol.NewRPCClient(cfg.SolanaRPCURL),
		rpc.CommitmentType(cfg.Commitment),
		cfg.SolanaRPCURL,
		metricsCollector,
		logger,
	)
	logger.Info("initialized solana RPC client",
		"url", cfg.SolanaRPCURL,
		"commitment", cfg.Commitment,
	)

	// Initialize the service signer; scheduled claims execute under the same
	// wallet as API-triggered operations.
	signer, err := engine.NewKeypairSignerFromFile(cfg.KeypairPath)
	if err != nil {
		logger.Error("failed to load service keypair", "path", cfg.KeypairPath, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded service keypair", "wallet", signer.PublicKey().String())

	// Initialize NATS status publisher so scheduled claims emit the same
	// status events as API-triggered operations.
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	wallet := signer.PublicKey()
	tracker := engine.NewTracker(func(snap engine.Snapshot) {
		event := natspkg.FromSnapshot(wallet.String(), snap)
		if err := natsPublisher.PublishStatus(context.Background(), event); err != nil {
			logger.Error("failed to publish status event",
				"phase", string(snap.Phase),
				"error", err,
			)
		}
	})

	// Initialize plan builder, execution driver, and operator
	deriver := vault.Deriver{
		VaultProgram: vaultProgram,
		FarmsProgram: farmsProgram,
	}
	builder := vault.NewBuilder(chainClient, deriver, cfg.ComputeUnitLimit, metricsCollector, logger)
	driver := engine.NewDriver(chainClient, signer, tracker, cfg.ConfirmTimeout, metricsCollector, logger)
	operator := server.NewOperator(builder, driver, store, wallet, logger)

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Operator:          operator,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"wallet", wallet.String(),
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
