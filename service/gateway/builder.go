package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	splToken "github.com/gagliardetto/solana-go/programs/token"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/milton-labs/paygate/service/blink"
	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/metrics"
	sol "github.com/milton-labs/paygate/service/solana"
	"github.com/milton-labs/paygate/service/token"
)

// Ledger is the subset of the store the gateway needs. *db.Store satisfies
// it.
type Ledger interface {
	CreatePendingTransaction(ctx context.Context, params db.CreatePendingTransactionParams) (*db.PendingTransaction, error)
	GetPendingTransaction(ctx context.Context, id string) (*db.PendingTransaction, error)
	TransitionPendingTransaction(ctx context.Context, id string, newStatus string, params db.TransitionParams) (*db.PendingTransaction, error)
	SetPendingSignature(ctx context.Context, id string, signature string) error
}

// Builder constructs unsigned transactions and records them in the pending
// ledger. The caller signs the returned transaction client-side and hands it
// back through the Submitter.
type Builder struct {
	chain    *sol.Client
	ledger   Ledger
	registry *token.Registry
	tokens   token.Source
	prices   token.PriceSource
	treasury solana.PublicKey
	ttl      time.Duration
	blink    *blink.Program
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBuilder creates a Builder.
func NewBuilder(
	chain *sol.Client,
	ledger Ledger,
	registry *token.Registry,
	tokens token.Source,
	prices token.PriceSource,
	treasury solana.PublicKey,
	ttl time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Builder {
	return &Builder{
		chain:    chain,
		ledger:   ledger,
		registry: registry,
		tokens:   tokens,
		prices:   prices,
		treasury: treasury,
		ttl:      ttl,
		logger:   logger,
		metrics:  m,
	}
}

// newTransactionID mints a ledger id. The tx: prefix namespaces ledger ids
// in logs and client URLs.
func newTransactionID() string {
	return "tx:" + uuid.NewString()
}

// BuildTransfer validates a transfer intent and builds the unsigned
// transaction for it. The sender is the fee payer and sole required signer.
func (b *Builder) BuildTransfer(ctx context.Context, req TransferRequest) (*BuildResult, error) {
	start := time.Now()
	result, err := b.buildTransfer(ctx, req)
	b.metrics.RecordTransactionBuilt("transfer", statusLabel(err), time.Since(start).Seconds())
	return result, err
}

func (b *Builder) buildTransfer(ctx context.Context, req TransferRequest) (*BuildResult, error) {
	sender, err := solana.PublicKeyFromBase58(req.Sender)
	if err != nil {
		return nil, Errorf(KindInvalidInput, "invalid sender address: %q", req.Sender)
	}
	recipient, err := solana.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		return nil, Errorf(KindInvalidInput, "invalid recipient address: %q", req.Recipient)
	}
	if sender.Equals(recipient) {
		return nil, NewError(KindInvalidInput, "sender and recipient must differ")
	}
	if len(req.Memo) > maxMemoBytes {
		return nil, Errorf(KindInvalidInput, "memo exceeds %d bytes", maxMemoBytes)
	}

	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid amount", err)
	}

	info, err := b.tokens.Info(ctx, req.TokenID)
	if err != nil {
		if errors.Is(err, token.ErrUnknownToken) {
			return nil, WrapError(KindInvalidInput, "unknown token", err)
		}
		return nil, WrapError(KindExternalAPIError, "token lookup failed", err)
	}

	baseUnits, err := ScaleAmount(amount, info.Decimals)
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid amount", err)
	}

	var instructions []solana.Instruction
	if info.Mint == "" {
		instructions = append(instructions, system.NewTransferInstruction(
			uint64(baseUnits),
			sender,
			recipient,
		).Build())
	} else {
		mint := solana.MustPublicKeyFromBase58(info.Mint)
		splIxs, err := b.splTransferInstructions(ctx, mint, info.Decimals, uint64(baseUnits), sender, sender, recipient)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, splIxs...)
	}
	if req.Memo != "" {
		instructions = append(instructions, newMemoInstruction(req.Memo, sender))
	}

	return b.finish(ctx, instructions, sender, db.CreatePendingTransactionParams{
		Sender:      req.Sender,
		Recipient:   req.Recipient,
		TokenID:     req.TokenID,
		Amount:      baseUnits,
		HumanAmount: req.Amount,
		Memo:        optional(req.Memo),
	})
}

// BuildPurchase validates a MILTON purchase intent, checks the quoted
// payment against current prices, and builds the unsigned transaction. The
// buyer pays fees; both the buyer and the treasury must sign.
func (b *Builder) BuildPurchase(ctx context.Context, req PurchaseRequest) (*BuildResult, error) {
	start := time.Now()
	result, err := b.buildPurchase(ctx, req)
	b.metrics.RecordTransactionBuilt("purchase", statusLabel(err), time.Since(start).Seconds())
	return result, err
}

func (b *Builder) buildPurchase(ctx context.Context, req PurchaseRequest) (*BuildResult, error) {
	buyer, err := solana.PublicKeyFromBase58(req.Buyer)
	if err != nil {
		return nil, Errorf(KindInvalidInput, "invalid buyer address: %q", req.Buyer)
	}
	if req.PaymentTokenID != token.IDSol && req.PaymentTokenID != token.IDUSDC {
		return nil, Errorf(KindInvalidInput, "payment token must be %s or %s", token.IDSol, token.IDUSDC)
	}
	if req.SlippageBps < 0 || req.SlippageBps > 10_000 {
		return nil, NewError(KindInvalidInput, "slippage_bps must be between 0 and 10000")
	}
	if len(req.Memo) > maxMemoBytes {
		return nil, Errorf(KindInvalidInput, "memo exceeds %d bytes", maxMemoBytes)
	}

	paymentAmount, err := ParseAmount(req.PaymentAmount)
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid payment_amount", err)
	}
	miltonAmount, err := ParseAmount(req.MiltonAmount)
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid milton_amount", err)
	}

	// Price the quote before touching the chain. A stale client quote is
	// rejected here, not at submission.
	miltonPrice, err := b.prices.PriceUSD(ctx, token.IDMilton)
	if err != nil {
		return nil, WrapError(KindExternalAPIError, "MILTON price unavailable", err)
	}
	paymentPrice, err := b.prices.PriceUSD(ctx, req.PaymentTokenID)
	if err != nil {
		return nil, WrapError(KindExternalAPIError, "payment token price unavailable", err)
	}

	expected := miltonAmount.Mul(miltonPrice).Div(paymentPrice)
	if !withinSlippage(paymentAmount, expected, req.SlippageBps) {
		b.metrics.RecordSlippageRejection(req.PaymentTokenID)
		return nil, Errorf(KindSlippageExceeded,
			"payment %s %s deviates more than %d bps from expected %s",
			req.PaymentAmount, req.PaymentTokenID, req.SlippageBps, expected.StringFixed(9))
	}

	paymentInfo, err := b.tokens.Info(ctx, req.PaymentTokenID)
	if err != nil {
		return nil, WrapError(KindExternalAPIError, "payment token lookup failed", err)
	}
	miltonInfo, err := b.tokens.Info(ctx, token.IDMilton)
	if err != nil {
		return nil, WrapError(KindExternalAPIError, "MILTON token lookup failed", err)
	}

	paymentUnits, err := ScaleAmount(paymentAmount, paymentInfo.Decimals)
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid payment_amount", err)
	}
	miltonUnits, err := ScaleAmount(miltonAmount, miltonInfo.Decimals)
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid milton_amount", err)
	}

	miltonMint := b.registry.MiltonMint()
	var instructions []solana.Instruction

	// Payment leg, buyer to treasury.
	if req.PaymentTokenID == token.IDSol {
		instructions = append(instructions, system.NewTransferInstruction(
			uint64(paymentUnits),
			buyer,
			b.treasury,
		).Build())
	} else {
		usdcMint := b.registry.USDCMint()
		paymentIxs, err := b.splTransferInstructions(ctx, usdcMint, paymentInfo.Decimals, uint64(paymentUnits), buyer, buyer, b.treasury)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, paymentIxs...)
	}

	// MILTON leg, treasury to buyer. The buyer funds the ATA creation.
	miltonIxs, err := b.splTransferInstructions(ctx, miltonMint, miltonInfo.Decimals, uint64(miltonUnits), buyer, b.treasury, buyer)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, miltonIxs...)

	if req.Memo != "" {
		instructions = append(instructions, newMemoInstruction(req.Memo, buyer))
	}

	return b.finish(ctx, instructions, buyer, db.CreatePendingTransactionParams{
		Sender:      req.Buyer,
		Recipient:   b.treasury.String(),
		TokenID:     req.PaymentTokenID,
		Amount:      paymentUnits,
		HumanAmount: req.PaymentAmount,
		Memo:        optional(req.Memo),
	})
}

// splTransferInstructions builds the instruction sequence for one SPL token
// leg: create the destination ATA when it does not exist yet, then a checked
// transfer. feePayer funds any ATA creation, owner authorizes the transfer.
func (b *Builder) splTransferInstructions(
	ctx context.Context,
	mint solana.PublicKey,
	decimals uint8,
	amount uint64,
	feePayer, owner, destWallet solana.PublicKey,
) ([]solana.Instruction, error) {
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, WrapError(KindInternal, "failed to derive source token account", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(destWallet, mint)
	if err != nil {
		return nil, WrapError(KindInternal, "failed to derive destination token account", err)
	}

	var instructions []solana.Instruction
	exists, err := b.chain.AccountExists(ctx, dest)
	if err != nil {
		return nil, WrapError(KindExternalAPIError, "failed to check destination token account", err)
	}
	if !exists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			feePayer,
			destWallet,
			mint,
		).Build())
	}

	instructions = append(instructions, splToken.NewTransferCheckedInstruction(
		amount,
		decimals,
		source,
		mint,
		dest,
		owner,
		[]solana.PublicKey{},
	).Build())

	return instructions, nil
}

// finish attaches a blockhash, estimates the fee, serializes the unsigned
// transaction, and records it in the ledger.
func (b *Builder) finish(ctx context.Context, instructions []solana.Instruction, feePayer solana.PublicKey, record db.CreatePendingTransactionParams) (*BuildResult, error) {
	blockhash, _, err := b.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, WrapError(KindExternalAPIError, "failed to fetch blockhash", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, WrapError(KindInternal, "failed to assemble transaction", err)
	}

	fee, err := b.chain.FeeForMessage(ctx, tx)
	if err != nil {
		// The fee estimate is informational. Fall back to the base fee per
		// signature rather than failing the build.
		fee = uint64(tx.Message.Header.NumRequiredSignatures) * 5000
		b.logger.Warn("fee estimation failed, using base fee", "error", err, "fee", fee)
	}

	unsigned, err := EncodeUnsignedTransaction(tx)
	if err != nil {
		return nil, WrapError(KindInternal, "failed to serialize transaction", err)
	}

	record.ID = newTransactionID()
	record.ExpiresAt = time.Now().UTC().Add(b.ttl)
	created, err := b.ledger.CreatePendingTransaction(ctx, record)
	if err != nil {
		return nil, WrapError(KindInternal, "failed to record pending transaction", err)
	}

	b.logger.Info("built unsigned transaction",
		"transaction_id", created.ID,
		"sender", record.Sender,
		"token", record.TokenID,
		"amount", record.Amount,
		"expires_at", created.ExpiresAt)

	return &BuildResult{
		TransactionID:       created.ID,
		UnsignedTransaction: unsigned,
		FeeLamports:         fee,
		ExpiresAt:           created.ExpiresAt,
		Amount:              record.Amount,
		HumanAmount:         record.HumanAmount,
	}, nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PriceQuote returns what a purchase should cost right now, for clients that
// want to display a quote before asking for a transaction.
func (b *Builder) PriceQuote(ctx context.Context, paymentTokenID string, miltonAmount decimal.Decimal) (decimal.Decimal, error) {
	if paymentTokenID != token.IDSol && paymentTokenID != token.IDUSDC {
		return decimal.Zero, Errorf(KindInvalidInput, "payment token must be %s or %s", token.IDSol, token.IDUSDC)
	}
	miltonPrice, err := b.prices.PriceUSD(ctx, token.IDMilton)
	if err != nil {
		return decimal.Zero, WrapError(KindExternalAPIError, "MILTON price unavailable", err)
	}
	paymentPrice, err := b.prices.PriceUSD(ctx, paymentTokenID)
	if err != nil {
		return decimal.Zero, WrapError(KindExternalAPIError, "payment token price unavailable", err)
	}
	return miltonAmount.Mul(miltonPrice).Div(paymentPrice), nil
}
