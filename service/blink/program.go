// Package blink encodes instructions for the on-chain blink program. The
// program's wire format is fixed, so the encoder mirrors it byte for byte:
// a one-byte instruction index followed by packed fields.
package blink

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Instruction indexes understood by the program.
const (
	instructionCreate = 0
	instructionDonate = 1
	instructionUpdate = 2
)

const pdaSeed = "blink"

// Program wraps the blink program id and produces its instructions.
type Program struct {
	programID solana.PublicKey
}

// NewProgram creates a Program for the given deployed program address.
func NewProgram(programID string) (*Program, error) {
	pk, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("invalid blink program id %q: %w", programID, err)
	}
	return &Program{programID: pk}, nil
}

// ProgramID returns the program address.
func (p *Program) ProgramID() solana.PublicKey { return p.programID }

// DeriveAddress returns the PDA holding the blink state for an NFT mint.
func (p *Program) DeriveAddress(nftMint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(pdaSeed), nftMint.Bytes()}, p.programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive blink address: %w", err)
	}
	return addr, nil
}

// Params carries the display fields shared by create and update.
type Params struct {
	Color           string  // "#RRGGBB"
	DurationSeconds float64 // stored as a 32-bit float on chain
	Text            string
	Font            string
	BackgroundColor string // "#RRGGBB"
	QRCodeAddress   string
	QRCodeType      string
}

// CreateInstruction builds the CreateBlink instruction. The payer funds
// the PDA account and must sign.
func (p *Program) CreateInstruction(payer, nftMint solana.PublicKey, params Params) (solana.Instruction, error) {
	blinkAccount, err := p.DeriveAddress(nftMint)
	if err != nil {
		return nil, err
	}
	data, err := encodeParams(instructionCreate, params)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(blinkAccount, true, false),
		solana.NewAccountMeta(nftMint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}
	return solana.NewInstruction(p.programID, accounts, data), nil
}

// UpdateInstruction builds the UpdateBlink instruction.
func (p *Program) UpdateInstruction(payer, nftMint solana.PublicKey, params Params) (solana.Instruction, error) {
	blinkAccount, err := p.DeriveAddress(nftMint)
	if err != nil {
		return nil, err
	}
	data, err := encodeParams(instructionUpdate, params)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(blinkAccount, true, false),
		solana.NewAccountMeta(nftMint, false, false),
	}
	return solana.NewInstruction(p.programID, accounts, data), nil
}

// DonateInstruction builds the AddDonation instruction attaching a
// donation address to an existing blink.
func (p *Program) DonateInstruction(payer, donationAddress, nftMint solana.PublicKey) (solana.Instruction, error) {
	blinkAccount, err := p.DeriveAddress(nftMint)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, 33)
	data = append(data, instructionDonate)
	data = append(data, donationAddress.Bytes()...)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(blinkAccount, true, false),
		solana.NewAccountMeta(donationAddress, false, false),
	}
	return solana.NewInstruction(p.programID, accounts, data), nil
}

// encodeParams packs the shared create/update payload: index byte, 3-byte
// color, little-endian float32 duration, then the string fields.
func encodeParams(index byte, params Params) ([]byte, error) {
	color, err := parseColor(params.Color)
	if err != nil {
		return nil, fmt.Errorf("invalid color: %w", err)
	}
	background, err := parseColor(params.BackgroundColor)
	if err != nil {
		return nil, fmt.Errorf("invalid background color: %w", err)
	}
	if params.DurationSeconds <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}

	duration := make([]byte, 4)
	binary.LittleEndian.PutUint32(duration, math.Float32bits(float32(params.DurationSeconds)))

	data := []byte{index}
	data = append(data, color...)
	data = append(data, duration...)
	data = append(data, params.Text...)
	data = append(data, params.Font...)
	data = append(data, background...)
	data = append(data, params.QRCodeAddress...)
	data = append(data, params.QRCodeType...)
	return data, nil
}

// parseColor decodes "#RRGGBB" (leading '#' optional) into 3 raw bytes.
func parseColor(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "#")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not a hex color: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("expected 3 color bytes, got %d", len(raw))
	}
	return raw, nil
}
