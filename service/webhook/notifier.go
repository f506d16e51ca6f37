package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/metrics"
)

const deliveryTimeout = 10 * time.Second

// Notification is the payload delivered to a registered callback URL when a
// transaction reaches a terminal state.
type Notification struct {
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	Signature     string     `json:"signature,omitempty"`
	FailReason    string     `json:"fail_reason,omitempty"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	Token         string     `json:"token"`
	Amount        int64      `json:"amount"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Notifier sends settlement notifications to registered webhooks. Delivery
// is fire-and-forget: a slow or broken endpoint never blocks or fails the
// payment flow, and there are no retries.
type Notifier struct {
	registry *Registry
	secret   []byte
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewNotifier creates a Notifier signing deliveries with the given secret.
func NewNotifier(registry *Registry, secret string, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		registry: registry,
		secret:   []byte(secret),
		client:   &http.Client{Timeout: deliveryTimeout},
		logger:   logger,
		metrics:  m,
	}
}

// Notify delivers a notification for the transaction's sender wallet in the
// background. Returns immediately.
func (n *Notifier) Notify(txn *db.PendingTransaction) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := n.deliver(ctx, txn); err != nil {
			if errors.Is(err, ErrNotRegistered) {
				return
			}
			n.metrics.RecordWebhookNotification("error")
			n.logger.Warn("webhook delivery failed",
				"transaction_id", txn.ID,
				"wallet", txn.Sender,
				"error", err)
			return
		}
		n.metrics.RecordWebhookNotification("ok")
	}()
}

func (n *Notifier) deliver(ctx context.Context, txn *db.PendingTransaction) error {
	callbackURL, err := n.registry.Lookup(ctx, txn.Sender)
	if err != nil {
		return err
	}

	payload := Notification{
		TransactionID: txn.ID,
		Status:        txn.Status,
		Sender:        txn.Sender,
		Recipient:     txn.Recipient,
		Token:         txn.TokenID,
		Amount:        txn.Amount,
		CompletedAt:   txn.CompletedAt,
	}
	if txn.Signature != nil {
		payload.Signature = *txn.Signature
	}
	if txn.FailReason != nil {
		payload.FailReason = *txn.FailReason
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Paygate-Signature", n.sign(body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// sign computes the hex HMAC-SHA256 of the body. Receivers verify it with
// the shared secret before trusting the payload.
func (n *Notifier) sign(body []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
