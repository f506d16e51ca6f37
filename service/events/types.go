package events

import (
	"time"

	"github.com/milton-labs/paygate/service/db"
)

// SettlementEvent represents a payment settlement published to NATS.
// This is published to the subject "payments.{sender_wallet}" in JetStream.
type SettlementEvent struct {
	// Ledger identifiers
	TransactionID string `json:"transaction_id"`
	Signature     string `json:"signature,omitempty"`

	// Participants
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	// Payment details
	Token       string `json:"token"`
	Amount      int64  `json:"amount"` // base units
	HumanAmount string `json:"human_amount"`
	Memo        string `json:"memo,omitempty"`

	// Outcome
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`

	// Timing
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// FromPendingTransaction converts a ledger record to a SettlementEvent for
// publishing.
func FromPendingTransaction(txn *db.PendingTransaction) *SettlementEvent {
	event := &SettlementEvent{
		TransactionID: txn.ID,
		Sender:        txn.Sender,
		Recipient:     txn.Recipient,
		Token:         txn.TokenID,
		Amount:        txn.Amount,
		HumanAmount:   txn.HumanAmount,
		Status:        txn.Status,
		CreatedAt:     txn.CreatedAt,
		CompletedAt:   txn.CompletedAt,
		PublishedAt:   time.Now().UTC(),
	}

	if txn.Signature != nil {
		event.Signature = *txn.Signature
	}
	if txn.FailReason != nil {
		event.FailReason = *txn.FailReason
	}
	if txn.Memo != nil {
		event.Memo = *txn.Memo
	}

	return event
}
