package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Redis configuration (vault registry cache)
	RedisAddr        string
	RegistryCacheTTL time.Duration

	// Solana configuration
	SolanaRPCURL     string
	Commitment       string
	VaultProgramID   string
	FarmsProgramID   string
	ConfirmTimeout   time.Duration
	ComputeUnitLimit uint32

	// Service signer configuration. Both the server and the auto-claim
	// worker execute operations under this keypair.
	KeypairPath string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Auto-claim configuration
	DefaultClaimInterval time.Duration
	MinClaimInterval     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Redis configuration
	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	registryTTL, err := parseDuration("REGISTRY_CACHE_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RegistryCacheTTL = registryTTL
	}

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.Commitment = getEnvOrDefault("SOLANA_COMMITMENT", "confirmed")
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Errorf("SOLANA_COMMITMENT must be one of processed, confirmed, finalized; got %q", cfg.Commitment))
	}

	cfg.VaultProgramID = os.Getenv("VAULT_PROGRAM_ID")
	if cfg.VaultProgramID == "" {
		errs = append(errs, fmt.Errorf("VAULT_PROGRAM_ID is required"))
	}

	cfg.FarmsProgramID = os.Getenv("FARMS_PROGRAM_ID")
	if cfg.FarmsProgramID == "" {
		errs = append(errs, fmt.Errorf("FARMS_PROGRAM_ID is required"))
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	cuLimit, err := parseInt("COMPUTE_UNIT_LIMIT", 1_400_000)
	if err != nil {
		errs = append(errs, err)
	} else if cuLimit <= 0 {
		errs = append(errs, fmt.Errorf("COMPUTE_UNIT_LIMIT must be positive, got %d", cuLimit))
	} else {
		cfg.ComputeUnitLimit = uint32(cuLimit)
	}

	// Service signer (validated at startup by whichever binary loads it)
	cfg.KeypairPath = os.Getenv("KEYPAIR_PATH")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "vaultflow-auto-claim")

	// Auto-claim configuration
	defaultInterval, err := parseDuration("DEFAULT_CLAIM_INTERVAL", "6h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultClaimInterval = defaultInterval
	}

	minInterval, err := parseDuration("MIN_CLAIM_INTERVAL", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinClaimInterval = minInterval
	}

	// Validate intervals
	if cfg.MinClaimInterval > cfg.DefaultClaimInterval {
		errs = append(errs, fmt.Errorf("MIN_CLAIM_INTERVAL (%v) cannot be greater than DEFAULT_CLAIM_INTERVAL (%v)",
			cfg.MinClaimInterval, cfg.DefaultClaimInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.VaultProgramID == "" {
		errs = append(errs, fmt.Errorf("VaultProgramID is required"))
	}

	if c.FarmsProgramID == "" {
		errs = append(errs, fmt.Errorf("FarmsProgramID is required"))
	}

	if c.ConfirmTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be at least 1 second"))
	}

	if c.ComputeUnitLimit == 0 {
		errs = append(errs, fmt.Errorf("ComputeUnitLimit must be positive"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinClaimInterval > c.DefaultClaimInterval {
		errs = append(errs, fmt.Errorf("MinClaimInterval cannot be greater than DefaultClaimInterval"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
