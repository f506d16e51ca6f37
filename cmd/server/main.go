package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/milton-labs/paygate/service/blink"
	"github.com/milton-labs/paygate/service/config"
	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/events"
	"github.com/milton-labs/paygate/service/gateway"
	"github.com/milton-labs/paygate/service/metrics"
	"github.com/milton-labs/paygate/service/ratelimit"
	"github.com/milton-labs/paygate/service/server"
	"github.com/milton-labs/paygate/service/solana"
	"github.com/milton-labs/paygate/service/token"
	"github.com/milton-labs/paygate/service/webhook"
)

func main() {
	// .env is for local development; absence is fine
	godotenv.Load()

	cfg := config.MustLoad()
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting payment gateway",
		"addr", cfg.ServerAddr,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	store := db.NewStore(dbPool)
	logger.Info("connected to database")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to ping redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	// Metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Settlement event stream
	publisher, err := events.NewPublisher(cfg.NATSURL, logger, m)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Solana
	chain := solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), cfg.SolanaRPCURL, m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	registry, err := token.NewRegistry(cfg.MiltonMintAddress, cfg.USDCMintAddress)
	if err != nil {
		logger.Error("invalid mint configuration", "error", err)
		os.Exit(1)
	}
	treasury, err := solanago.PublicKeyFromBase58(cfg.TreasuryWalletAddress)
	if err != nil {
		logger.Error("invalid treasury wallet address", "error", err)
		os.Exit(1)
	}

	// MILTON has no listed market; its price is pinned by config while
	// SOL and USDC come from the external price API.
	miltonPrice, err := decimal.NewFromString(cfg.MiltonPriceUSD)
	if err != nil {
		logger.Error("invalid MILTON_PRICE_USD", "error", err)
		os.Exit(1)
	}
	prices := token.NewFixedPriceSource(
		map[string]decimal.Decimal{token.IDMilton: miltonPrice},
		token.NewHTTPPriceSource(cfg.PriceAPIURL, logger),
	)

	tokens := token.NewCachedSource(
		token.NewChainSource(registry, chain, prices, logger),
		rdb, cfg.TokenInfoTTL, logger, m,
	)

	// Webhooks
	webhooks := webhook.NewRegistry(rdb)
	notifier := webhook.NewNotifier(webhooks, cfg.APISecret, logger, m)

	// Core gateway
	builder := gateway.NewBuilder(chain, store, registry, tokens, prices, treasury,
		cfg.PendingTxTTL, logger, m)

	if cfg.BlinkProgramID != "" {
		program, err := blink.NewProgram(cfg.BlinkProgramID)
		if err != nil {
			logger.Error("invalid BLINK_PROGRAM_ID", "error", err)
			os.Exit(1)
		}
		builder.WithBlinkProgram(program)
		logger.Info("blink program enabled", "program_id", cfg.BlinkProgramID)
	}

	var treasuryKey *solanago.PrivateKey
	if cfg.TreasuryPrivateKey != "" {
		key, err := solanago.PrivateKeyFromBase58(cfg.TreasuryPrivateKey)
		if err != nil {
			logger.Error("invalid treasury private key", "error", err)
			os.Exit(1)
		}
		if !key.PublicKey().Equals(treasury) {
			logger.Error("treasury private key does not match treasury wallet address")
			os.Exit(1)
		}
		treasuryKey = &key
		logger.Info("treasury co-signing enabled")
	}

	submitter := gateway.NewSubmitter(chain, store, notifier, publisher, treasuryKey,
		cfg.ConfirmTimeout, logger, m)

	// Rate limiter
	limiter := ratelimit.NewLimiter(rdb, int64(cfg.RateLimit), cfg.RateLimitWindow, logger)

	// Periodic expiry sweep. Lazy expiry already keeps reads correct; the
	// sweep just stops expired rows from lingering as pending.
	c := cron.New()
	if cfg.SweepInterval > 0 {
		_, err := c.AddFunc("@every "+cfg.SweepInterval.String(), func() {
			sweepCtx, sweepCancel := context.WithTimeout(context.Background(), time.Minute)
			defer sweepCancel()
			n, err := store.ExpireStale(sweepCtx, time.Now().UTC())
			if err != nil {
				logger.Error("expiry sweep failed", "error", err)
				return
			}
			if n > 0 {
				logger.Info("expired stale pending transactions", "count", n)
			}
		})
		if err != nil {
			logger.Error("failed to schedule expiry sweep", "error", err)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
		logger.Info("expiry sweep scheduled", "interval", cfg.SweepInterval)
	}

	httpServer := server.New(cfg.ServerAddr, cfg, store, builder, submitter, tokens,
		registry, chain, webhooks, limiter, m, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

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

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
