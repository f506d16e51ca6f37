// Package token resolves the assets the gateway can move: native SOL, the
// MILTON and USDC mints, or any SPL mint given by address. Mint metadata is
// read from the chain and cached in Redis; USD prices come from an external
// price API behind a circuit breaker.
package token

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Symbolic token ids accepted anywhere a token is named. Any other id must
// be a base58 SPL mint address.
const (
	IDSol    = "SOL"
	IDMilton = "MILTON"
	IDUSDC   = "USDC"
)

// ErrUnknownToken is returned when an id is neither a known symbol nor a
// valid mint address.
var ErrUnknownToken = errors.New("unknown token")

// Token identifies an asset the gateway can transfer.
type Token struct {
	ID     string
	Symbol string
	Mint   solana.PublicKey // zero for native SOL
	Native bool
}

// Registry maps symbolic token ids to their configured mints.
type Registry struct {
	miltonMint solana.PublicKey
	usdcMint   solana.PublicKey
}

// NewRegistry creates a Registry from the configured MILTON and USDC mint
// addresses.
func NewRegistry(miltonMint, usdcMint string) (*Registry, error) {
	milton, err := solana.PublicKeyFromBase58(miltonMint)
	if err != nil {
		return nil, fmt.Errorf("invalid MILTON mint %q: %w", miltonMint, err)
	}
	usdc, err := solana.PublicKeyFromBase58(usdcMint)
	if err != nil {
		return nil, fmt.Errorf("invalid USDC mint %q: %w", usdcMint, err)
	}
	return &Registry{miltonMint: milton, usdcMint: usdc}, nil
}

// Resolve maps a token id to a Token. Symbolic ids resolve to the configured
// mints; anything else is treated as a raw mint address.
func (r *Registry) Resolve(id string) (*Token, error) {
	switch id {
	case IDSol:
		return &Token{ID: IDSol, Symbol: IDSol, Native: true}, nil
	case IDMilton:
		return &Token{ID: IDMilton, Symbol: IDMilton, Mint: r.miltonMint}, nil
	case IDUSDC:
		return &Token{ID: IDUSDC, Symbol: IDUSDC, Mint: r.usdcMint}, nil
	}

	mint, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownToken, id)
	}
	tok := &Token{ID: id, Mint: mint}
	// A raw address may still be one of the configured mints.
	switch mint {
	case r.miltonMint:
		tok.Symbol = IDMilton
	case r.usdcMint:
		tok.Symbol = IDUSDC
	}
	return tok, nil
}

// MiltonMint returns the configured MILTON mint.
func (r *Registry) MiltonMint() solana.PublicKey { return r.miltonMint }

// USDCMint returns the configured USDC mint.
func (r *Registry) USDCMint() solana.PublicKey { return r.usdcMint }
