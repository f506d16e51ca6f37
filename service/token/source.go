package token

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	sol "github.com/milton-labs/paygate/service/solana"
)

const solDecimals = 9

// Info describes a token at a point in time.
type Info struct {
	ID       string          `json:"id"`
	Mint     string          `json:"mint,omitempty"` // empty for native SOL
	Symbol   string          `json:"symbol,omitempty"`
	Decimals uint8           `json:"decimals"`
	Supply   uint64          `json:"supply"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}

// Source looks up token metadata by id.
type Source interface {
	Info(ctx context.Context, id string) (*Info, error)
}

// MintReader reads SPL mint accounts. *solana.Client satisfies it.
type MintReader interface {
	GetMintInfo(ctx context.Context, mint solana.PublicKey) (*sol.MintInfo, error)
}

// ChainSource reads token metadata from the chain and prices from a
// PriceSource.
type ChainSource struct {
	registry *Registry
	mints    MintReader
	prices   PriceSource
	logger   *slog.Logger
}

// NewChainSource creates a Source backed by on-chain mint accounts.
func NewChainSource(registry *Registry, mints MintReader, prices PriceSource, logger *slog.Logger) *ChainSource {
	return &ChainSource{
		registry: registry,
		mints:    mints,
		prices:   prices,
		logger:   logger,
	}
}

// Info resolves a token id and assembles its metadata. A failed price lookup
// does not fail the whole call; the price is simply left at zero so transfer
// flows, which never need a price, are not coupled to the price API.
func (s *ChainSource) Info(ctx context.Context, id string) (*Info, error) {
	tok, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}

	info := &Info{
		ID:     tok.ID,
		Symbol: tok.Symbol,
	}

	if tok.Native {
		info.Decimals = solDecimals
	} else {
		mintInfo, err := s.mints.GetMintInfo(ctx, tok.Mint)
		if err != nil {
			return nil, fmt.Errorf("failed to read mint %s: %w", tok.Mint, err)
		}
		info.Mint = tok.Mint.String()
		info.Decimals = mintInfo.Decimals
		info.Supply = mintInfo.Supply
	}

	if tok.Symbol != "" {
		price, err := s.prices.PriceUSD(ctx, tok.Symbol)
		if err != nil {
			s.logger.Warn("price lookup failed", "token", tok.Symbol, "error", err)
		} else {
			info.PriceUSD = price
		}
	}

	return info, nil
}
