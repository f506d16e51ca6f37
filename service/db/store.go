package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status values for a pending transaction. pending is the only non-terminal
// state; completed, failed, and expired are terminal.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// ErrNotFound is returned when no pending transaction exists for an id.
var ErrNotFound = errors.New("transaction not found")

// ErrExpired is returned when a transition is rejected because the record's
// expiry has passed. The record is moved to the expired state as a side
// effect of the rejected transition.
var ErrExpired = errors.New("transaction expired")

// ErrAlreadyClaimed is returned when a submission claim finds the record
// already carrying a signature or already terminal.
var ErrAlreadyClaimed = errors.New("transaction already claimed")

// TerminalStateError is returned when a transition targets a record that is
// already in a terminal state. The record is left untouched.
type TerminalStateError struct {
	Status string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("transaction already %s", e.Status)
}

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// PendingTransaction is the ledger record for a built transaction awaiting
// signature and submission. Only Status, Signature, FailReason, and
// CompletedAt ever change after creation.
type PendingTransaction struct {
	ID          string
	Sender      string
	Recipient   string
	TokenID     string
	Amount      int64  // base units, scaled by the token's decimals
	HumanAmount string // original decimal string, for display
	Memo        *string
	Status      string
	Signature   *string
	FailReason  *string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

// Expired reports whether the record's expiry has passed at the given time.
func (p *PendingTransaction) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Terminal reports whether the record is in a terminal state.
func (p *PendingTransaction) Terminal() bool {
	return p.Status != StatusPending
}

// CreatePendingTransactionParams contains the parameters for inserting a
// new pending transaction.
type CreatePendingTransactionParams struct {
	ID          string
	Sender      string
	Recipient   string
	TokenID     string
	Amount      int64
	HumanAmount string
	Memo        *string
	ExpiresAt   time.Time
}

const pendingTxColumns = `id, sender, recipient, token_id, amount, human_amount, memo, status, signature, fail_reason, created_at, expires_at, completed_at`

// CreatePendingTransaction inserts a new record in the pending state.
// Must be called exactly once per built transaction.
func (s *Store) CreatePendingTransaction(ctx context.Context, params CreatePendingTransactionParams) (*PendingTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO pending_transactions (id, sender, recipient, token_id, amount, human_amount, memo, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		RETURNING `+pendingTxColumns,
		params.ID, params.Sender, params.Recipient, params.TokenID,
		params.Amount, params.HumanAmount, params.Memo, params.ExpiresAt,
	)
	return scanPendingTransaction(row)
}

// GetPendingTransaction retrieves a record by id.
func (s *Store) GetPendingTransaction(ctx context.Context, id string) (*PendingTransaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pendingTxColumns+`
		FROM pending_transactions
		WHERE id = $1`,
		id,
	)
	txn, err := scanPendingTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return txn, nil
}

// TransitionParams carries the optional fields written alongside a status
// transition.
type TransitionParams struct {
	Signature  *string
	FailReason *string
}

// TransitionPendingTransaction moves a record from pending to a terminal
// state. The update is conditioned on the record still being pending
// (compare-and-swap), so two concurrent submissions cannot both succeed.
//
// A transition to completed additionally requires the record not to have
// expired; a transition rejected on that ground marks the record expired and
// returns ErrExpired. Transitions against terminal records return
// *TerminalStateError; missing records return ErrNotFound.
func (s *Store) TransitionPendingTransaction(ctx context.Context, id string, newStatus string, params TransitionParams) (*PendingTransaction, error) {
	if newStatus == StatusPending {
		return nil, fmt.Errorf("cannot transition to %s", StatusPending)
	}

	query := `
		UPDATE pending_transactions
		SET status = $2,
		    signature = COALESCE($3, signature),
		    fail_reason = COALESCE($4, fail_reason),
		    completed_at = now()
		WHERE id = $1 AND status = 'pending'`
	if newStatus == StatusCompleted {
		query += ` AND expires_at > now()`
	}
	query += ` RETURNING ` + pendingTxColumns

	row := s.pool.QueryRow(ctx, query, id, newStatus, params.Signature, params.FailReason)
	txn, err := scanPendingTransaction(row)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// The CAS condition failed. Re-read to report why.
	current, getErr := s.GetPendingTransaction(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Terminal() {
		return nil, &TerminalStateError{Status: current.Status}
	}

	// Still pending, so the expiry guard rejected a completion. Resolve the
	// record to expired so later reads see a terminal state. A concurrent
	// transition may win this race; either way the record ends terminal.
	if _, expErr := s.TransitionPendingTransaction(ctx, id, StatusExpired, TransitionParams{}); expErr != nil {
		var terminal *TerminalStateError
		if !errors.As(expErr, &terminal) {
			return nil, expErr
		}
	}
	return nil, ErrExpired
}

// SetPendingSignature records the on-chain signature on a still-pending,
// not-yet-signed record. This doubles as the submission claim: the single
// caller whose update lands gets to broadcast, and the recorded signature
// lets a later status check pick up where a crashed or timed-out submission
// left off. A record that is missing returns ErrNotFound; one that is
// already signed or terminal returns ErrAlreadyClaimed.
func (s *Store) SetPendingSignature(ctx context.Context, id string, signature string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_transactions
		SET signature = $2
		WHERE id = $1 AND status = 'pending' AND signature IS NULL`,
		id, signature,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetPendingTransaction(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyClaimed
}

// ExpireStale marks all pending records whose expiry has passed as expired.
// Lazy expiry at read/transition time keeps the ledger correct without this;
// the sweep just keeps history tidy.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_transactions
		SET status = 'expired', completed_at = now()
		WHERE status = 'pending' AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPendingTransactionsParams contains pagination parameters.
type ListPendingTransactionsParams struct {
	Sender string
	Limit  int32
	Offset int32
}

// ListPendingTransactionsBySender retrieves records for a sender with
// pagination, newest first.
func (s *Store) ListPendingTransactionsBySender(ctx context.Context, params ListPendingTransactionsParams) ([]*PendingTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pendingTxColumns+`
		FROM pending_transactions
		WHERE sender = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.Sender, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*PendingTransaction
	for rows.Next() {
		txn, err := scanPendingTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// CountPendingTransactionsBySender counts records for a sender.
func (s *Store) CountPendingTransactionsBySender(ctx context.Context, sender string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM pending_transactions WHERE sender = $1`,
		sender,
	).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingTransaction(row rowScanner) (*PendingTransaction, error) {
	var txn PendingTransaction
	err := row.Scan(
		&txn.ID,
		&txn.Sender,
		&txn.Recipient,
		&txn.TokenID,
		&txn.Amount,
		&txn.HumanAmount,
		&txn.Memo,
		&txn.Status,
		&txn.Signature,
		&txn.FailReason,
		&txn.CreatedAt,
		&txn.ExpiresAt,
		&txn.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
