package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/gateway"
	sol "github.com/milton-labs/paygate/service/solana"
	"github.com/milton-labs/paygate/service/token"
	"github.com/milton-labs/paygate/service/webhook"

	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a signed transaction
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer

	defaultListLimit = 20
	maxListLimit     = 100
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleBuildTransfer returns a handler that builds an unsigned transfer
// transaction and records it in the pending ledger.
// POST /api/v1/transfers
func handleBuildTransfer(builder *gateway.Builder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req gateway.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode transfer request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		result, err := builder.BuildTransfer(r.Context(), req)
		if err != nil {
			writeGatewayError(w, logger, "build transfer failed", err)
			return
		}

		writeJSON(w, result, http.StatusCreated)
	})
}

// handleBuildPurchase returns a handler that builds an unsigned MILTON
// purchase transaction.
// POST /api/v1/purchases
func handleBuildPurchase(builder *gateway.Builder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req gateway.PurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode purchase request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		result, err := builder.BuildPurchase(r.Context(), req)
		if err != nil {
			writeGatewayError(w, logger, "build purchase failed", err)
			return
		}

		writeJSON(w, result, http.StatusCreated)
	})
}

// handleBuildBlink returns a handler that builds an unsigned blink
// transaction.
// POST /api/v1/blinks
func handleBuildBlink(builder *gateway.Builder, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req gateway.BlinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode blink request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		result, err := builder.BuildBlink(r.Context(), req)
		if err != nil {
			writeGatewayError(w, logger, "build blink failed", err)
			return
		}

		writeJSON(w, result, http.StatusCreated)
	})
}

// handleSubmitTransaction returns a handler that submits a signed
// transaction for a previously built intent.
// PUT /api/v1/transactions/{id}
func handleSubmitTransaction(submitter *gateway.Submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		id := r.PathValue("id")

		var req gateway.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode submit request", "error", err, "transaction_id", id)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if req.SignedTransaction == "" {
			writeError(w, "signed_transaction is required", http.StatusBadRequest)
			return
		}

		result, err := submitter.Submit(r.Context(), id, req.SignedTransaction)
		if err != nil {
			writeGatewayError(w, logger, "submission failed", err)
			return
		}

		writeJSON(w, result, http.StatusOK)
	})
}

// handleGetTransaction returns a handler that reports the status of a
// pending transaction, re-checking the chain for in-flight submissions.
// GET /api/v1/transactions/{id}
func handleGetTransaction(submitter *gateway.Submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		result, err := submitter.Status(r.Context(), id)
		if err != nil {
			writeGatewayError(w, logger, "status lookup failed", err)
			return
		}

		writeJSON(w, result, http.StatusOK)
	})
}

// transactionResponse is the JSON shape of a ledger record.
type transactionResponse struct {
	TransactionID string     `json:"transaction_id"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	Token         string     `json:"token"`
	Amount        int64      `json:"amount"`
	HumanAmount   string     `json:"human_amount"`
	Memo          *string    `json:"memo,omitempty"`
	Status        string     `json:"status"`
	Signature     *string    `json:"signature,omitempty"`
	FailReason    *string    `json:"fail_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toTransactionResponse(txn *db.PendingTransaction) transactionResponse {
	return transactionResponse{
		TransactionID: txn.ID,
		Sender:        txn.Sender,
		Recipient:     txn.Recipient,
		Token:         txn.TokenID,
		Amount:        txn.Amount,
		HumanAmount:   txn.HumanAmount,
		Memo:          txn.Memo,
		Status:        txn.Status,
		Signature:     txn.Signature,
		FailReason:    txn.FailReason,
		CreatedAt:     txn.CreatedAt,
		ExpiresAt:     txn.ExpiresAt,
		CompletedAt:   txn.CompletedAt,
	}
}

// handleListTransactions returns a handler that lists a sender's pending
// transactions, newest first.
// GET /api/v1/transactions?sender={address}&limit={n}&offset={n}
func handleListTransactions(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sender := r.URL.Query().Get("sender")
		if err := validateAddress(sender); err != nil {
			logger.Debug("invalid sender", "sender", sender, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseQueryInt(r, "limit", defaultListLimit)
		if err != nil || limit <= 0 || limit > maxListLimit {
			writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), http.StatusBadRequest)
			return
		}
		offset, err := parseQueryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}

		txns, err := store.ListPendingTransactionsBySender(r.Context(), db.ListPendingTransactionsParams{
			Sender: sender,
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			logger.Error("failed to list transactions", "sender", sender, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		total, err := store.CountPendingTransactionsBySender(r.Context(), sender)
		if err != nil {
			logger.Error("failed to count transactions", "sender", sender, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]transactionResponse, len(txns))
		for i, txn := range txns {
			resp[i] = toTransactionResponse(txn)
		}

		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleGetTokenInfo returns a handler that reports token metadata plus
// the treasury's balance of that token.
// GET /api/v1/tokens/{id}
func handleGetTokenInfo(tokens token.Source, chain *sol.Client, treasuryAddress string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		info, err := tokens.Info(r.Context(), id)
		if err != nil {
			if errors.Is(err, token.ErrUnknownToken) {
				writeError(w, "token not found", http.StatusNotFound)
				return
			}
			logger.Error("token lookup failed", "token", id, "error", err)
			writeError(w, "token lookup failed", http.StatusBadGateway)
			return
		}

		var treasuryBalance uint64
		treasury, err := solanago.PublicKeyFromBase58(treasuryAddress)
		if err == nil {
			treasuryBalance, err = treasuryTokenBalance(r, chain, treasury, info)
			if err != nil {
				// Balance is display-only. A missing token account or a
				// flaky RPC should not fail the whole lookup.
				logger.Warn("treasury balance lookup failed", "token", id, "error", err)
				treasuryBalance = 0
			}
		}

		writeJSON(w, map[string]interface{}{
			"id":                       info.ID,
			"symbol":                   info.Symbol,
			"mint":                     info.Mint,
			"decimals":                 info.Decimals,
			"price_usd":                info.PriceUSD,
			"supply":                   info.Supply,
			"supply_display":           gateway.DescaleAmount(int64(info.Supply), info.Decimals),
			"treasury_balance":         treasuryBalance,
			"treasury_balance_display": gateway.DescaleAmount(int64(treasuryBalance), info.Decimals),
		}, http.StatusOK)
	})
}

func treasuryTokenBalance(r *http.Request, chain *sol.Client, treasury solanago.PublicKey, info *token.Info) (uint64, error) {
	if info.Mint == "" {
		return chain.Balance(r.Context(), treasury)
	}
	mint, err := solanago.PublicKeyFromBase58(info.Mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint address %q: %w", info.Mint, err)
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(treasury, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to derive treasury token account: %w", err)
	}
	return chain.TokenAccountBalance(r.Context(), ata)
}

// handleRegisterWebhook returns a handler that registers a wallet's
// settlement callback URL.
// PUT /api/v1/webhooks
func handleRegisterWebhook(webhooks *webhook.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Wallet string `json:"wallet"`
			URL    string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode webhook request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Wallet); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := webhooks.Register(r.Context(), req.Wallet, req.URL); err != nil {
			logger.Debug("webhook registration rejected", "wallet", req.Wallet, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		logger.Info("webhook registered", "wallet", req.Wallet, "url", req.URL)
		writeJSON(w, map[string]string{
			"wallet": req.Wallet,
			"url":    req.URL,
		}, http.StatusOK)
	})
}

// writeGatewayError maps a gateway error kind to an HTTP status and writes
// the JSON error body.
func writeGatewayError(w http.ResponseWriter, logger *slog.Logger, context string, err error) {
	kind := gateway.KindOf(err)
	status := statusFromKind(kind)
	if status >= 500 {
		logger.Error(context, "error", err, "kind", kind)
	} else {
		logger.Debug(context, "error", err, "kind", kind)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

// statusFromKind maps gateway error kinds onto HTTP status codes.
func statusFromKind(kind gateway.Kind) int {
	switch kind {
	case gateway.KindInvalidInput:
		return http.StatusBadRequest
	case gateway.KindUnauthorized, gateway.KindInvalidSignature:
		return http.StatusUnauthorized
	case gateway.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case gateway.KindTransactionNotFound:
		return http.StatusNotFound
	case gateway.KindTransactionExpired:
		return http.StatusGone
	case gateway.KindSlippageExceeded, gateway.KindSimulationFailed:
		return http.StatusUnprocessableEntity
	case gateway.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case gateway.KindTransactionFailed, gateway.KindExternalAPIError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for format and length.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address: must be base58")
	}
	return nil
}

func parseQueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
