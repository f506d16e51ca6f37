package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/milton-labs/paygate/service/config"
	"github.com/milton-labs/paygate/service/gateway"
	"github.com/milton-labs/paygate/service/token"
)

const invoiceMemoPrefix = "paygate:"

// Invoice is a Solana Pay payment request for the treasury wallet. The
// memo ties the eventual on-chain payment back to this invoice.
type Invoice struct {
	ID           string        `json:"id"`
	PayToAddress string        `json:"pay_to_address"`
	Network      string        `json:"network"`
	Token        string        `json:"token"`
	TokenMint    string        `json:"token_mint,omitempty"`
	Amount       string        `json:"amount"`
	Memo         string        `json:"memo"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Timeout      time.Duration `json:"timeout"`
	PaymentURL   string        `json:"payment_url"`
	QRCodeData   string        `json:"qr_code_data"`
	CreatedAt    time.Time     `json:"created_at"`
}

// handleCreateInvoice returns a handler that creates a Solana Pay invoice
// payable to the treasury.
// POST /api/v1/invoices
func handleCreateInvoice(registry *token.Registry, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Token   string `json:"token"`
			Amount  string `json:"amount"`
			Label   string `json:"label"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode invoice request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		tok, err := registry.Resolve(req.Token)
		if err != nil {
			writeError(w, fmt.Sprintf("unknown token %q", req.Token), http.StatusBadRequest)
			return
		}
		amount, err := gateway.ParseAmount(req.Amount)
		if err != nil {
			writeError(w, "invalid amount: must be a positive decimal", http.StatusBadRequest)
			return
		}

		invoice := generateInvoice(cfg, tok, amount.String(), req.Label, req.Message)
		logger.Info("invoice created", "invoice_id", invoice.ID, "token", tok.ID, "amount", invoice.Amount)
		writeJSON(w, invoice, http.StatusCreated)
	})
}

// generateInvoice assembles the invoice, its Solana Pay URL, and the QR
// code for wallet apps.
func generateInvoice(cfg *config.Config, tok *token.Token, amount, label, message string) Invoice {
	invoiceID := uuid.New().String()
	memo := invoiceMemoPrefix + invoiceID
	now := time.Now().UTC()

	var mint string
	if !tok.Native {
		mint = tok.Mint.String()
	}
	paymentURL := buildSolanaPayURL(cfg.TreasuryWalletAddress, amount, mint, memo, label, message)

	// QR code is a convenience for wallet apps; the URL alone is enough.
	qrCodeData, err := generateQRCode(paymentURL)
	if err != nil {
		qrCodeData = ""
	}

	return Invoice{
		ID:           invoiceID,
		PayToAddress: cfg.TreasuryWalletAddress,
		Network:      cfg.Network,
		Token:        tok.ID,
		TokenMint:    mint,
		Amount:       amount,
		Memo:         memo,
		ExpiresAt:    now.Add(cfg.PendingTxTTL),
		Timeout:      cfg.PendingTxTTL,
		PaymentURL:   paymentURL,
		QRCodeData:   qrCodeData,
		CreatedAt:    now,
	}
}

// buildSolanaPayURL creates a Solana Pay-compatible URL for payment.
// Format: solana:{recipient}?amount={amount}&spl-token={mint}&memo={memo}&label={label}&message={message}
func buildSolanaPayURL(recipient, amount, tokenMint, memo, label, message string) string {
	params := url.Values{}
	params.Set("amount", amount)
	params.Set("memo", memo)
	if label != "" {
		params.Set("label", label)
	}
	if message != "" {
		params.Set("message", message)
	}
	if tokenMint != "" {
		params.Set("spl-token", tokenMint)
	}
	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// generateQRCode creates a QR code image from a payment URL and returns it as base64-encoded PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
