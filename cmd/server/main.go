package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/vaultflow/service/config"
	"github.com/brojonat/vaultflow/service/db"
	"github.com/brojonat/vaultflow/service/engine"
	"github.com/brojonat/vaultflow/service/metrics"
	natspkg "github.com/brojonat/vaultflow/service/nats"
	"github.com/brojonat/vaultflow/service/registry"
	"github.com/brojonat/vaultflow/service/server"
	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/brojonat/vaultflow/service/temporal"
	"github.com/brojonat/vaultflow/service/vault"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
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

	// Initialize database store and apply the schema
	store := db.NewStore(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply database schema", "error", err)
		os.Exit(1)
	}

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

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
	// Note: For premium RPC endpoints, include the API key in the URL
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

	// Initialize the service signer. The server holds the single wallet all
	// operations execute under.
	signer, err := engine.NewKeypairSignerFromFile(cfg.KeypairPath)
	if err != nil {
		logger.Error("failed to load service keypair", "path", cfg.KeypairPath, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded service keypair", "wallet", signer.PublicKey().String())

	// Initialize NATS status publisher; tracker changes flow straight to the
	// operations stream.
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

	// Initialize plan builder and execution driver
	deriver := vault.Deriver{
		VaultProgram: vaultProgram,
		FarmsProgram: farmsProgram,
	}
	builder := vault.NewBuilder(chainClient, deriver, cfg.ComputeUnitLimit, metricsCollector, logger)
	driver := engine.NewDriver(chainClient, signer, tracker, cfg.ConfirmTimeout, metricsCollector, logger)
	operator := server.NewOperator(builder, driver, store, wallet, logger)

	// Initialize the vault registry over Redis
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	reg := registry.New(redisClient, chainClient, cfg.RegistryCacheTTL, metricsCollector, logger)
	logger.Info("initialized vault registry", "redis_addr", cfg.RedisAddr, "ttl", cfg.RegistryCacheTTL)

	// Initialize the SSE publisher (a read-side NATS connection for streaming
	// status events to HTTP clients)
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}

	// Initialize the Temporal client for auto-claim schedule management.
	// The server stays up without it; only the auto-claim endpoints are
	// disabled.
	var scheduler temporal.Scheduler
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, auto-claim endpoints disabled", "error", err)
	} else {
		defer temporalClient.Close()
		scheduler = temporalClient
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, store, operator, reg, scheduler, ssePublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"wallet", wallet.String(),
		"vault_program", vaultProgram.String(),
		"farms_program", farmsProgram.String(),
		"nats_url", cfg.NATSURL,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
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
