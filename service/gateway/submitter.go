package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/metrics"
	sol "github.com/milton-labs/paygate/service/solana"
)

// Notifier delivers settlement notifications for terminal transactions.
// Implementations must not block the submission path.
type Notifier interface {
	Notify(txn *db.PendingTransaction)
}

// EventPublisher publishes settlement events to the message bus.
type EventPublisher interface {
	PublishSettlement(ctx context.Context, txn *db.PendingTransaction) error
}

// Submitter takes a client-signed transaction, verifies it against its
// ledger record, and drives it through simulation, submission, and
// confirmation to a terminal ledger state.
type Submitter struct {
	chain          *sol.Client
	ledger         Ledger
	notifier       Notifier
	events         EventPublisher
	treasuryKey    *solana.PrivateKey // nil when the treasury signs elsewhere
	confirmTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// NewSubmitter creates a Submitter. treasuryKey may be nil; purchases then
// require the treasury signature to be applied before submission.
func NewSubmitter(
	chain *sol.Client,
	ledger Ledger,
	notifier Notifier,
	events EventPublisher,
	treasuryKey *solana.PrivateKey,
	confirmTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Submitter {
	return &Submitter{
		chain:          chain,
		ledger:         ledger,
		notifier:       notifier,
		events:         events,
		treasuryKey:    treasuryKey,
		confirmTimeout: confirmTimeout,
		logger:         logger,
		metrics:        m,
	}
}

// Submit runs the full submission flow for a signed transaction: expiry
// check, simulation, send, and bounded confirmation, ending in a ledger
// transition. A confirmation that does not resolve within the timeout
// leaves the record pending with its signature recorded; Status picks it up
// from there.
func (s *Submitter) Submit(ctx context.Context, id string, signedTxBase64 string) (*SubmitResult, error) {
	rec, err := s.ledger.GetPendingTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, Errorf(KindTransactionNotFound, "transaction %s not found", id)
		}
		return nil, WrapError(KindInternal, "ledger read failed", err)
	}

	if rec.Terminal() {
		return s.terminalResult(rec)
	}

	if rec.Expired(time.Now().UTC()) {
		return nil, s.expire(ctx, id)
	}

	tx, err := DecodeTransaction(signedTxBase64)
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid signed transaction", err)
	}
	if err := s.checkSigned(tx, rec); err != nil {
		return nil, err
	}
	if err := s.coSign(tx); err != nil {
		return nil, err
	}

	simErr, err := s.chain.Simulate(ctx, tx)
	if err != nil {
		return nil, WrapError(KindExternalAPIError, "simulation request failed", err)
	}
	if simErr != nil {
		reason := "simulation failed: " + simErr.Error()
		s.fail(ctx, id, reason)
		if strings.Contains(strings.ToLower(simErr.Error()), "insufficient") {
			return nil, WrapError(KindInsufficientFunds, "insufficient funds", simErr)
		}
		return nil, WrapError(KindSimulationFailed, "transaction would fail on-chain", simErr)
	}

	// Claim the submission by recording the signature while the record is
	// still pending and unsigned. Only one caller wins the claim and sends;
	// concurrent and repeated submissions converge through Status. Recording
	// the signature before the send also makes a crash or timeout between
	// send and confirmation recoverable.
	if err := s.ledger.SetPendingSignature(ctx, id, tx.Signatures[0].String()); err != nil {
		switch {
		case errors.Is(err, db.ErrAlreadyClaimed):
			return s.Status(ctx, id)
		case errors.Is(err, db.ErrNotFound):
			return nil, Errorf(KindTransactionNotFound, "transaction %s not found", id)
		default:
			return nil, WrapError(KindInternal, "failed to claim submission", err)
		}
	}

	sig, err := s.chain.Send(ctx, tx)
	if err != nil {
		s.metrics.RecordTransactionSubmitted("error")
		s.fail(ctx, id, "submission failed: "+err.Error())
		return nil, WrapError(KindTransactionFailed, "submission failed", err)
	}
	s.metrics.RecordTransactionSubmitted("ok")

	confirmStart := time.Now()
	confirmErr := s.chain.Confirm(ctx, sig, s.confirmTimeout)

	switch {
	case confirmErr == nil:
		s.metrics.RecordConfirmDuration("confirmed", time.Since(confirmStart).Seconds())
		return s.complete(ctx, id, sig.String())
	case errors.Is(confirmErr, sol.ErrConfirmationTimeout):
		s.metrics.RecordConfirmDuration("timeout", time.Since(confirmStart).Seconds())
		s.logger.Warn("confirmation timed out, leaving transaction pending",
			"transaction_id", id, "signature", sig)
		return &SubmitResult{
			TransactionID: id,
			Status:        db.StatusPending,
			Signature:     sig.String(),
		}, nil
	default:
		s.metrics.RecordConfirmDuration("failed", time.Since(confirmStart).Seconds())
		reason := "failed on-chain: " + confirmErr.Error()
		s.fail(ctx, id, reason)
		return nil, WrapError(KindTransactionFailed, "transaction failed on-chain", confirmErr)
	}
}

// Status reports the current state of a transaction. For a pending record
// that already has a signature it re-checks the chain, so a submission cut
// short by a confirmation timeout still converges to a terminal state.
func (s *Submitter) Status(ctx context.Context, id string) (*SubmitResult, error) {
	rec, err := s.ledger.GetPendingTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, Errorf(KindTransactionNotFound, "transaction %s not found", id)
		}
		return nil, WrapError(KindInternal, "ledger read failed", err)
	}

	if rec.Terminal() {
		return resultFromRecord(rec), nil
	}

	if rec.Signature != nil {
		sig, sigErr := solana.SignatureFromBase58(*rec.Signature)
		if sigErr == nil {
			status, rpcErr := s.chain.SignatureStatus(ctx, sig)
			if rpcErr == nil && status != nil {
				if status.Err != nil {
					reason := "failed on-chain"
					s.fail(ctx, id, reason)
					rec, err = s.ledger.GetPendingTransaction(ctx, id)
					if err != nil {
						return nil, WrapError(KindInternal, "ledger read failed", err)
					}
					return resultFromRecord(rec), nil
				}
				if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
					status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return s.complete(ctx, id, *rec.Signature)
				}
			}
		}
	}

	if rec.Expired(time.Now().UTC()) {
		if expErr := s.expire(ctx, id); IsKind(expErr, KindTransactionExpired) {
			rec, err = s.ledger.GetPendingTransaction(ctx, id)
			if err != nil {
				return nil, WrapError(KindInternal, "ledger read failed", err)
			}
		}
		return resultFromRecord(rec), nil
	}

	return resultFromRecord(rec), nil
}

// complete transitions a record to completed and fans out notifications.
func (s *Submitter) complete(ctx context.Context, id, signature string) (*SubmitResult, error) {
	txn, err := s.ledger.TransitionPendingTransaction(ctx, id, db.StatusCompleted, db.TransitionParams{
		Signature: &signature,
	})
	if err != nil {
		if errors.Is(err, db.ErrExpired) {
			// Confirmed on-chain but past the ledger deadline. The funds
			// moved; surface that over the expiry bookkeeping.
			s.logger.Warn("transaction confirmed after ledger expiry",
				"transaction_id", id, "signature", signature)
			return nil, Errorf(KindTransactionExpired, "transaction %s expired before completion", id)
		}
		var terminal *db.TerminalStateError
		if errors.As(err, &terminal) {
			// A concurrent submission got there first.
			rec, getErr := s.ledger.GetPendingTransaction(ctx, id)
			if getErr != nil {
				return nil, WrapError(KindInternal, "ledger read failed", getErr)
			}
			return s.terminalResult(rec)
		}
		return nil, WrapError(KindInternal, "ledger transition failed", err)
	}

	s.metrics.RecordTransition(db.StatusCompleted)
	s.logger.Info("transaction completed",
		"transaction_id", id, "signature", signature)

	s.notifier.Notify(txn)
	if err := s.events.PublishSettlement(ctx, txn); err != nil {
		s.logger.Error("failed to publish settlement event",
			"transaction_id", id, "error", err)
	}

	return resultFromRecord(txn), nil
}

// fail transitions a record to failed, tolerating races with other writers.
func (s *Submitter) fail(ctx context.Context, id, reason string) {
	txn, err := s.ledger.TransitionPendingTransaction(ctx, id, db.StatusFailed, db.TransitionParams{
		FailReason: &reason,
	})
	if err != nil {
		var terminal *db.TerminalStateError
		if !errors.As(err, &terminal) {
			s.logger.Error("failed to mark transaction failed",
				"transaction_id", id, "reason", reason, "error", err)
		}
		return
	}
	s.metrics.RecordTransition(db.StatusFailed)
	s.notifier.Notify(txn)
	if err := s.events.PublishSettlement(ctx, txn); err != nil {
		s.logger.Error("failed to publish settlement event",
			"transaction_id", id, "error", err)
	}
}

// expire transitions a record to expired and returns the expiry error the
// caller should surface.
func (s *Submitter) expire(ctx context.Context, id string) error {
	txn, err := s.ledger.TransitionPendingTransaction(ctx, id, db.StatusExpired, db.TransitionParams{})
	if err != nil {
		var terminal *db.TerminalStateError
		if errors.As(err, &terminal) && terminal.Status == db.StatusExpired {
			return Errorf(KindTransactionExpired, "transaction %s expired", id)
		}
		if !errors.As(err, &terminal) {
			s.logger.Error("failed to expire transaction", "transaction_id", id, "error", err)
		}
		return Errorf(KindTransactionExpired, "transaction %s expired", id)
	}
	s.metrics.RecordTransition(db.StatusExpired)
	s.notifier.Notify(txn)
	return Errorf(KindTransactionExpired, "transaction %s expired", id)
}

// checkSigned verifies the signed transaction matches its ledger record and
// actually carries the sender's signature.
func (s *Submitter) checkSigned(tx *solana.Transaction, rec *db.PendingTransaction) error {
	if len(tx.Message.AccountKeys) == 0 || int(tx.Message.Header.NumRequiredSignatures) == 0 {
		return NewError(KindInvalidInput, "transaction has no required signers")
	}
	feePayer := tx.Message.AccountKeys[0]
	if feePayer.String() != rec.Sender {
		return Errorf(KindInvalidInput, "fee payer %s does not match sender %s", feePayer, rec.Sender)
	}
	if len(tx.Signatures) < 1 || tx.Signatures[0].IsZero() {
		return NewError(KindInvalidInput, "transaction is missing the sender signature")
	}
	return nil
}

// coSign fills in the treasury signature when the transaction requires it
// and the key is configured. Purchases move MILTON out of the treasury, so
// the treasury is a required signer on those.
func (s *Submitter) coSign(tx *solana.Transaction) error {
	if s.treasuryKey == nil {
		return nil
	}
	treasury := s.treasuryKey.PublicKey()

	required := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if !tx.Message.AccountKeys[i].Equals(treasury) {
			continue
		}
		if i < len(tx.Signatures) && !tx.Signatures[i].IsZero() {
			return nil // already signed
		}
		msg, err := tx.Message.MarshalBinary()
		if err != nil {
			return WrapError(KindInternal, "failed to serialize message for signing", err)
		}
		sig, err := s.treasuryKey.Sign(msg)
		if err != nil {
			return WrapError(KindInternal, "treasury signing failed", err)
		}
		for len(tx.Signatures) < required {
			tx.Signatures = append(tx.Signatures, solana.Signature{})
		}
		tx.Signatures[i] = sig
		return nil
	}
	return nil
}

// terminalResult maps an already-terminal record to a response: completed
// records report idempotently, failed and expired ones error.
func (s *Submitter) terminalResult(rec *db.PendingTransaction) (*SubmitResult, error) {
	switch rec.Status {
	case db.StatusCompleted:
		return resultFromRecord(rec), nil
	case db.StatusExpired:
		return nil, Errorf(KindTransactionExpired, "transaction %s expired", rec.ID)
	default:
		reason := "transaction already failed"
		if rec.FailReason != nil {
			reason = *rec.FailReason
		}
		return nil, Errorf(KindTransactionFailed, "%s", reason)
	}
}

func resultFromRecord(rec *db.PendingTransaction) *SubmitResult {
	result := &SubmitResult{
		TransactionID: rec.ID,
		Status:        rec.Status,
		CompletedAt:   rec.CompletedAt,
	}
	if rec.Signature != nil {
		result.Signature = *rec.Signature
	}
	if rec.FailReason != nil {
		result.FailReason = *rec.FailReason
	}
	return result
}
