// Package server exposes the payment gateway over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/milton-labs/paygate/service/auth"
	"github.com/milton-labs/paygate/service/config"
	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/gateway"
	"github.com/milton-labs/paygate/service/metrics"
	"github.com/milton-labs/paygate/service/ratelimit"
	sol "github.com/milton-labs/paygate/service/solana"
	"github.com/milton-labs/paygate/service/token"
	"github.com/milton-labs/paygate/service/webhook"
)

// Server is the HTTP server for the payment gateway.
type Server struct {
	addr      string
	cfg       *config.Config
	store     *db.Store
	builder   *gateway.Builder
	submitter *gateway.Submitter
	tokens    token.Source
	registry  *token.Registry
	chain     *sol.Client
	webhooks  *webhook.Registry
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The limiter is optional - if nil, requests are not rate limited.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, builder *gateway.Builder, submitter *gateway.Submitter, tokens token.Source, registry *token.Registry, chain *sol.Client, webhooks *webhook.Registry, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		store:     store,
		builder:   builder,
		submitter: submitter,
		tokens:    tokens,
		registry:  registry,
		chain:     chain,
		webhooks:  webhooks,
		limiter:   limiter,
		metrics:   m,
		logger:    logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := s.routes()

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// routes builds the request mux. Mutating routes require a bearer token
// and an HMAC request signature; read routes require the bearer token.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Transaction building routes
	mux.Handle("POST /api/v1/transfers", s.mutating("transfers", handleBuildTransfer(s.builder, s.logger)))
	mux.Handle("POST /api/v1/purchases", s.mutating("purchases", handleBuildPurchase(s.builder, s.logger)))
	mux.Handle("POST /api/v1/blinks", s.mutating("blinks", handleBuildBlink(s.builder, s.logger)))

	// Submission and status routes
	mux.Handle("PUT /api/v1/transactions/{id}", s.mutating("submit", handleSubmitTransaction(s.submitter, s.logger)))
	mux.Handle("GET /api/v1/transactions/{id}", s.protected("transaction_status", handleGetTransaction(s.submitter, s.logger)))
	mux.Handle("GET /api/v1/transactions", s.protected("transactions_list", handleListTransactions(s.store, s.logger)))

	// Token and invoice routes
	mux.Handle("GET /api/v1/tokens/{id}", s.protected("token_info", handleGetTokenInfo(s.tokens, s.chain, s.cfg.TreasuryWalletAddress, s.logger)))
	mux.Handle("POST /api/v1/invoices", s.mutating("invoices", handleCreateInvoice(s.registry, s.cfg, s.logger)))

	// Webhook registration
	mux.Handle("PUT /api/v1/webhooks", s.mutating("webhooks", handleRegisterWebhook(s.webhooks, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return mux
}

// protected wraps a handler with metrics, rate limiting, and bearer auth.
func (s *Server) protected(name string, h http.Handler) http.Handler {
	h = auth.Bearer(s.cfg.JWTSecret, s.logger)(h)
	if s.limiter != nil {
		h = ratelimit.Middleware(s.limiter, s.metrics, name)(h)
	}
	if s.metrics != nil {
		h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}
	return h
}

// mutating additionally requires an HMAC signature over the request body.
func (s *Server) mutating(name string, h http.Handler) http.Handler {
	h = auth.RequestSignature([]byte(s.cfg.APISecret), s.logger)(h)
	return s.protected(name, h)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Signature, X-Timestamp")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
