package solana

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPCClient is a configurable in-memory RPCClient for tests.
// Behavior is driven by function fields; unset fields fall back to
// reasonable defaults backed by the Accounts map.
type MockRPCClient struct {
	mu sync.Mutex

	// Accounts maps base58 addresses to raw account data. An entry with a
	// nil slice represents an existing account with no data.
	Accounts map[string][]byte

	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	Fee                  uint64

	GetLatestBlockhashFunc  func(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfoFunc      func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	SimulateFunc            func(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	SendFunc                func(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SignatureStatusesFunc   func(ctx context.Context, searchHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetFeeForMessageFunc    func(ctx context.Context, message string, commitment rpc.CommitmentType) (*rpc.GetFeeForMessageResult, error)
	GetBalanceFunc          func(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenBalanceFunc     func(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)

	// SendCalls counts SendTransactionWithOpts invocations.
	SendCalls int
}

// NewMockRPCClient creates a MockRPCClient with an empty account set and a
// fixed non-zero blockhash.
func NewMockRPCClient() *MockRPCClient {
	var hash solana.Hash
	copy(hash[:], []byte("mock-blockhash-mock-blockhash-mk"))
	return &MockRPCClient{
		Accounts:             make(map[string][]byte),
		Blockhash:            hash,
		LastValidBlockHeight: 1000,
		Fee:                  5000,
	}
}

// SetMintAccount registers a mint account with the given supply and decimals
// laid out per the SPL mint account format.
func (m *MockRPCClient) SetMintAccount(mint solana.PublicKey, supply uint64, decimals uint8) {
	data := make([]byte, 82)
	binary.LittleEndian.PutUint64(data[mintSupplyOffset:mintSupplyOffset+8], supply)
	data[mintDecimalsOffset] = decimals
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[mint.String()] = data
}

// SetAccount registers a plain existing account.
func (m *MockRPCClient) SetAccount(account solana.PublicKey, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[account.String()] = data
}

func (m *MockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if m.GetLatestBlockhashFunc != nil {
		return m.GetLatestBlockhashFunc(ctx, commitment)
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.Blockhash,
			LastValidBlockHeight: m.LastValidBlockHeight,
		},
	}, nil
}

func (m *MockRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if m.GetAccountInfoFunc != nil {
		return m.GetAccountInfoFunc(ctx, account)
	}
	m.mu.Lock()
	data, ok := m.Accounts[account.String()]
	m.mu.Unlock()
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Data: rpc.DataBytesOrJSONFromBytes(data),
		},
	}, nil
}

func (m *MockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, account, commitment)
	}
	return &rpc.GetBalanceResult{Value: 10_000_000_000}, nil
}

func (m *MockRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	if m.GetTokenBalanceFunc != nil {
		return m.GetTokenBalanceFunc(ctx, account, commitment)
	}
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: "1000000000"},
	}, nil
}

func (m *MockRPCClient) GetFeeForMessage(ctx context.Context, message string, commitment rpc.CommitmentType) (*rpc.GetFeeForMessageResult, error) {
	if m.GetFeeForMessageFunc != nil {
		return m.GetFeeForMessageFunc(ctx, message, commitment)
	}
	fee := m.Fee
	return &rpc.GetFeeForMessageResult{Value: &fee}, nil
}

func (m *MockRPCClient) SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	if m.SimulateFunc != nil {
		return m.SimulateFunc(ctx, tx, opts)
	}
	return &rpc.SimulateTransactionResponse{
		Value: &rpc.SimulateTransactionResult{},
	}, nil
}

func (m *MockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	m.SendCalls++
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, tx, opts)
	}
	var sig solana.Signature
	copy(sig[:], []byte("mock-signature"))
	return sig, nil
}

func (m *MockRPCClient) GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if m.SignatureStatusesFunc != nil {
		return m.SignatureStatusesFunc(ctx, searchHistory, sigs...)
	}
	statuses := make([]*rpc.SignatureStatusesResult, len(sigs))
	for i := range sigs {
		statuses[i] = &rpc.SignatureStatusesResult{
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
		}
	}
	return &rpc.GetSignatureStatusesResult{Value: statuses}, nil
}
