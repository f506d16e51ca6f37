package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Transaction Workflow Metrics
	transactionsBuiltTotal     *prometheus.CounterVec
	transactionsSubmittedTotal *prometheus.CounterVec
	transactionTransitions     *prometheus.CounterVec
	buildDuration              *prometheus.HistogramVec
	confirmDuration            *prometheus.HistogramVec
	slippageRejectionsTotal    *prometheus.CounterVec

	// Token Cache Metrics
	tokenInfoLookupsTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	rateLimitHitsTotal  *prometheus.CounterVec

	// Notification Metrics
	webhookNotificationsTotal *prometheus.CounterVec
	eventsPublishedTotal      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		transactionsBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_built_total",
				Help: "Total number of unsigned transactions built by operation and status",
			},
			[]string{"operation", "status"},
		),
		transactionsSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_submitted_total",
				Help: "Total number of signed transactions submitted by outcome",
			},
			[]string{"outcome"},
		),
		transactionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_transitions_total",
				Help: "Total number of pending-transaction state transitions",
			},
			[]string{"to_status"},
		),
		buildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_build_duration_seconds",
				Help:    "Duration of unsigned transaction builds in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		confirmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirm_duration_seconds",
				Help:    "Time from submission to confirmation in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90},
			},
			[]string{"outcome"},
		),
		slippageRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slippage_rejections_total",
				Help: "Total number of purchase builds rejected for exceeding slippage tolerance",
			},
			[]string{"payment_currency"},
		),
		tokenInfoLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_info_lookups_total",
				Help: "Total number of token info lookups by source (cache or origin)",
			},
			[]string{"token", "source"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by status",
			},
			[]string{"operation", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status code",
			},
			[]string{"handler", "method", "status"},
		),
		rateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"handler"},
		),
		webhookNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_notifications_total",
				Help: "Total number of webhook notifications by status",
			},
			[]string{"status"},
		),
		eventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_events_published_total",
				Help: "Total number of settlement events published to NATS by status",
			},
			[]string{"status"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, durationSeconds float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordTransactionBuilt records an unsigned transaction build attempt.
func (m *Metrics) RecordTransactionBuilt(operation, status string, durationSeconds float64) {
	m.transactionsBuiltTotal.WithLabelValues(operation, status).Inc()
	m.buildDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordTransactionSubmitted records a submission outcome.
func (m *Metrics) RecordTransactionSubmitted(outcome string) {
	m.transactionsSubmittedTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition records a ledger state transition.
func (m *Metrics) RecordTransition(toStatus string) {
	m.transactionTransitions.WithLabelValues(toStatus).Inc()
}

// RecordConfirmDuration records time from submission to resolution.
func (m *Metrics) RecordConfirmDuration(outcome string, durationSeconds float64) {
	m.confirmDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordSlippageRejection records a purchase rejected by the slippage check.
func (m *Metrics) RecordSlippageRejection(paymentCurrency string) {
	m.slippageRejectionsTotal.WithLabelValues(paymentCurrency).Inc()
}

// RecordTokenInfoLookup records a token info lookup and where it was served from.
func (m *Metrics) RecordTokenInfoLookup(token, source string) {
	m.tokenInfoLookupsTotal.WithLabelValues(token, source).Inc()
}

// RecordDBOperation records a database operation with its duration.
func (m *Metrics) RecordDBOperation(operation, status string, durationSeconds float64) {
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request with its duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, durationSeconds float64) {
	status := statusLabel(statusCode)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(durationSeconds)
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitHit(handler string) {
	m.rateLimitHitsTotal.WithLabelValues(handler).Inc()
}

// RecordWebhookNotification records a webhook delivery attempt.
func (m *Metrics) RecordWebhookNotification(status string) {
	m.webhookNotificationsTotal.WithLabelValues(status).Inc()
}

// RecordEventPublished records a settlement event publish attempt.
func (m *Metrics) RecordEventPublished(status string) {
	m.eventsPublishedTotal.WithLabelValues(status).Inc()
}

func statusLabel(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
