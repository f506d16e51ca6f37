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

	// Redis configuration (token info cache, rate limiter, webhook registry)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS configuration (settlement event stream)
	NATSURL string

	// Solana configuration
	SolanaRPCURL          string
	Network               string // "mainnet" or "devnet"
	TreasuryWalletAddress string
	TreasuryPrivateKey    string // base58, optional; enables custodial submission
	MiltonMintAddress     string
	USDCMintAddress       string
	BlinkProgramID        string // optional; enables the blink routes

	// Auth configuration
	JWTSecret string
	APISecret string // HMAC key for request signatures

	// Pricing configuration
	PriceAPIURL    string
	MiltonPriceUSD string // fixed quote for the unlisted project token

	// Workflow configuration
	PendingTxTTL   time.Duration
	TokenInfoTTL   time.Duration
	ConfirmTimeout time.Duration

	// Rate limiting
	RateLimit       int
	RateLimitWindow time.Duration

	// Expiry sweep (optional; lazy expiry keeps the ledger correct without it)
	SweepInterval time.Duration
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

	// Redis configuration
	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	redisDB, err := parseInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RedisDB = redisDB

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.Network = getEnvOrDefault("NETWORK", "devnet")
	if cfg.Network != "mainnet" && cfg.Network != "devnet" {
		errs = append(errs, fmt.Errorf("NETWORK must be 'mainnet' or 'devnet', got %q", cfg.Network))
	}

	cfg.TreasuryWalletAddress = os.Getenv("TREASURY_WALLET_ADDRESS")
	if cfg.TreasuryWalletAddress == "" {
		errs = append(errs, fmt.Errorf("TREASURY_WALLET_ADDRESS is required"))
	}

	cfg.TreasuryPrivateKey = os.Getenv("TREASURY_PRIVATE_KEY")

	cfg.MiltonMintAddress = os.Getenv("MILTON_MINT_ADDRESS")
	if cfg.MiltonMintAddress == "" {
		errs = append(errs, fmt.Errorf("MILTON_MINT_ADDRESS is required"))
	}

	cfg.USDCMintAddress = os.Getenv("USDC_MINT_ADDRESS")
	if cfg.USDCMintAddress == "" {
		errs = append(errs, fmt.Errorf("USDC_MINT_ADDRESS is required"))
	}

	if cfg.MiltonMintAddress != "" && cfg.MiltonMintAddress == cfg.USDCMintAddress {
		errs = append(errs, fmt.Errorf("MILTON_MINT_ADDRESS and USDC_MINT_ADDRESS must be different"))
	}

	cfg.BlinkProgramID = os.Getenv("BLINK_PROGRAM_ID")

	// Auth configuration
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	cfg.APISecret = os.Getenv("API_SECRET")
	if cfg.APISecret == "" {
		errs = append(errs, fmt.Errorf("API_SECRET is required"))
	}

	// Pricing configuration
	cfg.PriceAPIURL = getEnvOrDefault("PRICE_API_URL", "https://api.coingecko.com/api/v3")
	cfg.MiltonPriceUSD = getEnvOrDefault("MILTON_PRICE_USD", "0.1")

	// Workflow configuration
	cfg.PendingTxTTL, err = parseDuration("PENDING_TX_TTL", "15m")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.TokenInfoTTL, err = parseDuration("TOKEN_INFO_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	}

	// Rate limiting
	cfg.RateLimit, err = parseInt("RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RateLimitWindow, err = parseDuration("RATE_LIMIT_WINDOW", "1m")
	if err != nil {
		errs = append(errs, err)
	}

	// Sweep configuration
	cfg.SweepInterval, err = parseDuration("SWEEP_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	}

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
	if c.TreasuryWalletAddress == "" {
		errs = append(errs, fmt.Errorf("TreasuryWalletAddress is required"))
	}
	if c.MiltonMintAddress == "" {
		errs = append(errs, fmt.Errorf("MiltonMintAddress is required"))
	}
	if c.USDCMintAddress == "" {
		errs = append(errs, fmt.Errorf("USDCMintAddress is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWTSecret is required"))
	}
	if c.APISecret == "" {
		errs = append(errs, fmt.Errorf("APISecret is required"))
	}
	if c.PendingTxTTL <= 0 {
		errs = append(errs, fmt.Errorf("PendingTxTTL must be positive"))
	}
	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be positive"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RateLimit must be positive"))
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
