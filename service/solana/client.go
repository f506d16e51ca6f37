package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/milton-labs/paygate/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)

	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)

	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)

	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)

	GetFeeForMessage(ctx context.Context, message string, commitment rpc.CommitmentType) (*rpc.GetFeeForMessageResult, error)

	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)

	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)

	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Client provides domain-level operations on top of the raw RPC interface:
// mint metadata reads, account existence checks, submission, and
// confirmation polling.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g. "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling. If m is nil, no
// metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// LatestBlockhash fetches the current blockhash used as the freshness token
// on built transactions.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, 0, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

// AccountExists reports whether an account has been created on-chain.
// A "not found" response is an answer, not a failure.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, account)
	c.record("GetAccountInfo", start, err)
	if err != nil {
		if err == rpc.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get account info: %w", err)
	}
	return out != nil && out.Value != nil, nil
}

// MintInfo holds the fields parsed from an SPL mint account.
type MintInfo struct {
	Supply   uint64
	Decimals uint8
}

// SPL mint account layout offsets.
const (
	mintSupplyOffset   = 36
	mintDecimalsOffset = 44
	mintMinDataLen     = 45
)

// GetMintInfo reads an SPL mint account and parses its supply and decimals.
func (c *Client) GetMintInfo(ctx context.Context, mint solana.PublicKey) (*MintInfo, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, mint)
	c.record("GetAccountInfo", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get mint account: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("mint account %s not found", mint)
	}

	data := out.Value.Data.GetBinary()
	if len(data) < mintMinDataLen {
		return nil, fmt.Errorf("mint account %s has invalid data length %d", mint, len(data))
	}

	return &MintInfo{
		Supply:   binary.LittleEndian.Uint64(data[mintSupplyOffset : mintSupplyOffset+8]),
		Decimals: data[mintDecimalsOffset],
	}, nil
}

// TokenAccountBalance returns the base-unit balance of a token account.
func (c *Client) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	c.record("GetTokenAccountBalance", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get token account balance: %w", err)
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token balance %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	c.record("GetBalance", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return out.Value, nil
}

// FeeForMessage estimates the fee for a compiled transaction message.
// A nil value from the node (e.g. blockhash no longer known) yields 0; the
// estimate is display-only.
func (c *Client) FeeForMessage(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}
	start := time.Now()
	out, err := c.rpc.GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(msg), rpc.CommitmentConfirmed)
	c.record("GetFeeForMessage", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get fee for message: %w", err)
	}
	if out.Value == nil {
		return 0, nil
	}
	return *out.Value, nil
}

// Simulate runs a transaction against current network state without
// submitting it. simErr reports an error inside the simulation (program
// failure, insufficient funds); err reports a failure of the RPC call itself.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) (simErr error, err error) {
	start := time.Now()
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: rpc.CommitmentConfirmed,
	})
	c.record("SimulateTransaction", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if out.Value != nil && out.Value.Err != nil {
		return fmt.Errorf("simulation error: %v (logs: %v)", out.Value.Err, out.Value.Logs), nil
	}
	return nil, nil
}

// Send submits a signed transaction for inclusion. Preflight is skipped
// because callers simulate explicitly first.
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.record("SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// ErrConfirmationTimeout is returned when a signature does not reach
// confirmed commitment within the deadline. The transaction may still land;
// callers must treat this as "unknown", not as failure.
var ErrConfirmationTimeout = fmt.Errorf("confirmation timed out")

// Confirm polls signature status until the transaction reaches confirmed
// commitment, errors on-chain, or the timeout elapses.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		start := time.Now()
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		c.record("GetSignatureStatuses", start, err)
		if err != nil {
			if ctx.Err() != nil {
				return ErrConfirmationTimeout
			}
			c.logger.WarnContext(ctx, "signature status poll failed, retrying",
				"signature", sig.String(),
				"error", err,
			)
		} else if len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				c.logger.DebugContext(ctx, "transaction confirmed",
					"signature", sig.String(),
					"commitment", status.ConfirmationStatus,
				)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}

// SignatureStatus returns the current confirmation status for a signature,
// or nil if the network does not know it. Used for idempotent re-checks of
// submissions whose confirmation wait timed out.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.record("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
