package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/metrics"
	sol "github.com/milton-labs/paygate/service/solana"
	"github.com/milton-labs/paygate/service/token"
)

const (
	testMiltonMint = "4q3payxn5MSVSmGQj1TRzN1t9TZQdXfHAVCNEEwDzzp5"
	testUSDCMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger is an in-memory Ledger with the same transition semantics as
// the Postgres store.
type memLedger struct {
	mu   sync.Mutex
	recs map[string]*db.PendingTransaction
}

func newMemLedger() *memLedger {
	return &memLedger{recs: make(map[string]*db.PendingTransaction)}
}

func (l *memLedger) CreatePendingTransaction(ctx context.Context, params db.CreatePendingTransactionParams) (*db.PendingTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.recs[params.ID]; ok {
		return nil, fmt.Errorf("duplicate id %s", params.ID)
	}
	rec := &db.PendingTransaction{
		ID:          params.ID,
		Sender:      params.Sender,
		Recipient:   params.Recipient,
		TokenID:     params.TokenID,
		Amount:      params.Amount,
		HumanAmount: params.HumanAmount,
		Memo:        params.Memo,
		Status:      db.StatusPending,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   params.ExpiresAt,
	}
	l.recs[params.ID] = rec
	cp := *rec
	return &cp, nil
}

func (l *memLedger) GetPendingTransaction(ctx context.Context, id string) (*db.PendingTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (l *memLedger) TransitionPendingTransaction(ctx context.Context, id string, newStatus string, params db.TransitionParams) (*db.PendingTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if rec.Status != db.StatusPending {
		return nil, &db.TerminalStateError{Status: rec.Status}
	}
	now := time.Now().UTC()
	if newStatus == db.StatusCompleted && !now.Before(rec.ExpiresAt) {
		rec.Status = db.StatusExpired
		rec.CompletedAt = &now
		return nil, db.ErrExpired
	}
	rec.Status = newStatus
	if params.Signature != nil {
		rec.Signature = params.Signature
	}
	if params.FailReason != nil {
		rec.FailReason = params.FailReason
	}
	rec.CompletedAt = &now
	cp := *rec
	return &cp, nil
}

func (l *memLedger) SetPendingSignature(ctx context.Context, id string, signature string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[id]
	if !ok {
		return db.ErrNotFound
	}
	if rec.Status != db.StatusPending || rec.Signature != nil {
		return db.ErrAlreadyClaimed
	}
	rec.Signature = &signature
	return nil
}

type fakeTokenSource struct {
	infos map[string]*token.Info
}

func (f *fakeTokenSource) Info(ctx context.Context, id string) (*token.Info, error) {
	info, ok := f.infos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", token.ErrUnknownToken, id)
	}
	return info, nil
}

type fakePriceSource struct {
	prices map[string]decimal.Decimal
	err    error
}

func (f *fakePriceSource) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %q", symbol)
	}
	return price, nil
}

type builderFixture struct {
	builder  *Builder
	ledger   *memLedger
	mock     *sol.MockRPCClient
	registry *token.Registry
	treasury solana.PublicKey
	prices   *fakePriceSource
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()

	mock := sol.NewMockRPCClient()
	chain := sol.NewClient(mock, "test", metrics.NewMetrics(prometheus.NewRegistry()), testLogger())
	ledger := newMemLedger()

	registry, err := token.NewRegistry(testMiltonMint, testUSDCMint)
	require.NoError(t, err)

	tokens := &fakeTokenSource{infos: map[string]*token.Info{
		"SOL":    {ID: "SOL", Symbol: "SOL", Decimals: 9},
		"MILTON": {ID: "MILTON", Symbol: "MILTON", Mint: testMiltonMint, Decimals: 9},
		"USDC":   {ID: "USDC", Symbol: "USDC", Mint: testUSDCMint, Decimals: 6},
	}}
	prices := &fakePriceSource{prices: map[string]decimal.Decimal{
		"SOL":    decimal.RequireFromString("100"),
		"USDC":   decimal.RequireFromString("1"),
		"MILTON": decimal.RequireFromString("0.1"),
	}}

	treasury := solana.NewWallet().PublicKey()
	b := NewBuilder(chain, ledger, registry, tokens, prices, treasury,
		15*time.Minute, testLogger(), metrics.NewMetrics(prometheus.NewRegistry()))

	return &builderFixture{
		builder:  b,
		ledger:   ledger,
		mock:     mock,
		registry: registry,
		treasury: treasury,
		prices:   prices,
	}
}

func TestBuildTransferSOL(t *testing.T) {
	f := newBuilderFixture(t)
	sender := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()

	result, err := f.builder.BuildTransfer(context.Background(), TransferRequest{
		Sender:    sender.String(),
		Recipient: recipient.String(),
		TokenID:   "SOL",
		Amount:    "1.5",
		Memo:      "invoice-7",
	})
	require.NoError(t, err)

	assert.Regexp(t, `^tx:[0-9a-f-]{36}$`, result.TransactionID)
	assert.Equal(t, int64(1_500_000_000), result.Amount)
	assert.Equal(t, "1.5", result.HumanAmount)
	assert.Equal(t, uint64(5000), result.FeeLamports)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), result.ExpiresAt, 5*time.Second)

	tx, err := DecodeTransaction(result.UnsignedTransaction)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), tx.Message.Header.NumRequiredSignatures)
	assert.Equal(t, sender, tx.Message.AccountKeys[0], "sender pays fees")
	require.Len(t, tx.Message.Instructions, 2, "transfer plus memo")
	for _, sig := range tx.Signatures {
		assert.True(t, sig.IsZero(), "unsigned transaction must carry zeroed signatures")
	}

	rec, err := f.ledger.GetPendingTransaction(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, rec.Status)
	assert.Equal(t, sender.String(), rec.Sender)
}

func TestBuildTransferSPL(t *testing.T) {
	f := newBuilderFixture(t)
	sender := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	usdcMint := f.registry.USDCMint()

	t.Run("creates recipient token account when missing", func(t *testing.T) {
		result, err := f.builder.BuildTransfer(context.Background(), TransferRequest{
			Sender:    sender.String(),
			Recipient: recipient.String(),
			TokenID:   "USDC",
			Amount:    "25",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(25_000_000), result.Amount)

		tx, err := DecodeTransaction(result.UnsignedTransaction)
		require.NoError(t, err)
		require.Len(t, tx.Message.Instructions, 2, "ATA create plus transfer")
	})

	t.Run("skips creation when the account exists", func(t *testing.T) {
		ata, _, err := solana.FindAssociatedTokenAddress(recipient, usdcMint)
		require.NoError(t, err)
		f.mock.SetAccount(ata, make([]byte, 165))

		result, err := f.builder.BuildTransfer(context.Background(), TransferRequest{
			Sender:    sender.String(),
			Recipient: recipient.String(),
			TokenID:   "USDC",
			Amount:    "25",
		})
		require.NoError(t, err)

		tx, err := DecodeTransaction(result.UnsignedTransaction)
		require.NoError(t, err)
		require.Len(t, tx.Message.Instructions, 1, "transfer only")
	})
}

func TestBuildTransferValidation(t *testing.T) {
	f := newBuilderFixture(t)
	sender := solana.NewWallet().PublicKey().String()
	recipient := solana.NewWallet().PublicKey().String()

	cases := []struct {
		name string
		req  TransferRequest
	}{
		{"bad sender", TransferRequest{Sender: "nope", Recipient: recipient, TokenID: "SOL", Amount: "1"}},
		{"bad recipient", TransferRequest{Sender: sender, Recipient: "nope", TokenID: "SOL", Amount: "1"}},
		{"self transfer", TransferRequest{Sender: sender, Recipient: sender, TokenID: "SOL", Amount: "1"}},
		{"zero amount", TransferRequest{Sender: sender, Recipient: recipient, TokenID: "SOL", Amount: "0"}},
		{"negative amount", TransferRequest{Sender: sender, Recipient: recipient, TokenID: "SOL", Amount: "-3"}},
		{"malformed amount", TransferRequest{Sender: sender, Recipient: recipient, TokenID: "SOL", Amount: "1.2.3"}},
		{"excess precision", TransferRequest{Sender: sender, Recipient: recipient, TokenID: "USDC", Amount: "0.0000001"}},
		{"unknown token", TransferRequest{Sender: sender, Recipient: recipient, TokenID: "WAT", Amount: "1"}},
		{"oversized memo", TransferRequest{Sender: sender, Recipient: recipient, TokenID: "SOL", Amount: "1",
			Memo: string(make([]byte, maxMemoBytes+1))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.builder.BuildTransfer(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err), "got %v", err)
		})
	}
}

func TestBuildPurchase(t *testing.T) {
	buyer := solana.NewWallet().PublicKey()

	t.Run("SOL payment", func(t *testing.T) {
		f := newBuilderFixture(t)

		// 1000 MILTON at $0.10 costs $100, which is 1 SOL at $100.
		result, err := f.builder.BuildPurchase(context.Background(), PurchaseRequest{
			Buyer:          buyer.String(),
			PaymentTokenID: "SOL",
			PaymentAmount:  "1",
			MiltonAmount:   "1000",
			SlippageBps:    100,
		})
		require.NoError(t, err)

		tx, err := DecodeTransaction(result.UnsignedTransaction)
		require.NoError(t, err)
		assert.Equal(t, uint8(2), tx.Message.Header.NumRequiredSignatures, "buyer and treasury sign")
		assert.Equal(t, buyer, tx.Message.AccountKeys[0], "buyer pays fees")
		// Payment transfer, MILTON ATA create, MILTON transfer.
		require.Len(t, tx.Message.Instructions, 3)

		rec, err := f.ledger.GetPendingTransaction(context.Background(), result.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, "SOL", rec.TokenID)
		assert.Equal(t, int64(1_000_000_000), rec.Amount)
		assert.Equal(t, f.treasury.String(), rec.Recipient)
	})

	t.Run("slippage within tolerance at the boundary", func(t *testing.T) {
		f := newBuilderFixture(t)

		// Expected 1 SOL, 100 bps tolerance allows exactly 1.01.
		_, err := f.builder.BuildPurchase(context.Background(), PurchaseRequest{
			Buyer:          buyer.String(),
			PaymentTokenID: "SOL",
			PaymentAmount:  "1.01",
			MiltonAmount:   "1000",
			SlippageBps:    100,
		})
		require.NoError(t, err)
	})

	t.Run("slippage exceeded", func(t *testing.T) {
		f := newBuilderFixture(t)

		_, err := f.builder.BuildPurchase(context.Background(), PurchaseRequest{
			Buyer:          buyer.String(),
			PaymentTokenID: "SOL",
			PaymentAmount:  "1.02",
			MiltonAmount:   "1000",
			SlippageBps:    100,
		})
		require.Error(t, err)
		assert.Equal(t, KindSlippageExceeded, KindOf(err))
		assert.Zero(t, f.mock.SendCalls)
	})

	t.Run("price feed failure", func(t *testing.T) {
		f := newBuilderFixture(t)
		f.prices.err = errors.New("feed down")

		_, err := f.builder.BuildPurchase(context.Background(), PurchaseRequest{
			Buyer:          buyer.String(),
			PaymentTokenID: "SOL",
			PaymentAmount:  "1",
			MiltonAmount:   "1000",
			SlippageBps:    100,
		})
		require.Error(t, err)
		assert.Equal(t, KindExternalAPIError, KindOf(err))
	})

	t.Run("rejects MILTON as payment token", func(t *testing.T) {
		f := newBuilderFixture(t)

		_, err := f.builder.BuildPurchase(context.Background(), PurchaseRequest{
			Buyer:          buyer.String(),
			PaymentTokenID: "MILTON",
			PaymentAmount:  "1",
			MiltonAmount:   "1000",
			SlippageBps:    100,
		})
		require.Error(t, err)
		assert.Equal(t, KindInvalidInput, KindOf(err))
	})

	t.Run("rejects out-of-range slippage", func(t *testing.T) {
		f := newBuilderFixture(t)

		_, err := f.builder.BuildPurchase(context.Background(), PurchaseRequest{
			Buyer:          buyer.String(),
			PaymentTokenID: "SOL",
			PaymentAmount:  "1",
			MiltonAmount:   "1000",
			SlippageBps:    10_001,
		})
		require.Error(t, err)
		assert.Equal(t, KindInvalidInput, KindOf(err))
	})
}

func TestPriceQuote(t *testing.T) {
	f := newBuilderFixture(t)

	quote, err := f.builder.PriceQuote(context.Background(), "USDC", decimal.RequireFromString("500"))
	require.NoError(t, err)
	assert.True(t, quote.Equal(decimal.RequireFromString("50")), "500 MILTON at $0.10 is 50 USDC, got %s", quote)

	_, err = f.builder.PriceQuote(context.Background(), "MILTON", decimal.RequireFromString("1"))
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}
