package gateway

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/milton-labs/paygate/service/blink"
	"github.com/milton-labs/paygate/service/db"
	"github.com/milton-labs/paygate/service/token"
)

// Blink actions accepted by BuildBlink.
const (
	BlinkActionCreate = "create"
	BlinkActionUpdate = "update"
	BlinkActionDonate = "donate"
)

// BlinkRequest is an intent to create, update, or attach a donation
// address to an on-chain blink tied to an NFT mint.
type BlinkRequest struct {
	Payer           string  `json:"payer"`
	NFTMint         string  `json:"nft_mint"`
	Action          string  `json:"action"`
	Color           string  `json:"color,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Text            string  `json:"text,omitempty"`
	Font            string  `json:"font,omitempty"`
	BackgroundColor string  `json:"background_color,omitempty"`
	QRCodeAddress   string  `json:"qr_code_address,omitempty"`
	QRCodeType      string  `json:"qr_code_type,omitempty"`
	DonationAddress string  `json:"donation_address,omitempty"`
	Memo            string  `json:"memo,omitempty"`
}

// WithBlinkProgram enables blink building against the given deployed
// program. Without it BuildBlink rejects all requests.
func (b *Builder) WithBlinkProgram(p *blink.Program) *Builder {
	b.blink = p
	return b
}

// BuildBlink builds the unsigned transaction for a blink action and
// records it in the ledger. The payer is the fee payer and sole signer.
func (b *Builder) BuildBlink(ctx context.Context, req BlinkRequest) (*BuildResult, error) {
	start := time.Now()
	result, err := b.buildBlink(ctx, req)
	b.metrics.RecordTransactionBuilt("blink", statusLabel(err), time.Since(start).Seconds())
	return result, err
}

func (b *Builder) buildBlink(ctx context.Context, req BlinkRequest) (*BuildResult, error) {
	if b.blink == nil {
		return nil, NewError(KindInvalidInput, "blink program not configured")
	}

	payer, err := solana.PublicKeyFromBase58(req.Payer)
	if err != nil {
		return nil, Errorf(KindInvalidInput, "invalid payer address: %q", req.Payer)
	}
	nftMint, err := solana.PublicKeyFromBase58(req.NFTMint)
	if err != nil {
		return nil, Errorf(KindInvalidInput, "invalid nft_mint address: %q", req.NFTMint)
	}
	if len(req.Memo) > maxMemoBytes {
		return nil, Errorf(KindInvalidInput, "memo exceeds %d bytes", maxMemoBytes)
	}

	params := blink.Params{
		Color:           req.Color,
		DurationSeconds: req.DurationSeconds,
		Text:            req.Text,
		Font:            req.Font,
		BackgroundColor: req.BackgroundColor,
		QRCodeAddress:   req.QRCodeAddress,
		QRCodeType:      req.QRCodeType,
	}

	var ix solana.Instruction
	switch req.Action {
	case BlinkActionCreate:
		ix, err = b.blink.CreateInstruction(payer, nftMint, params)
	case BlinkActionUpdate:
		ix, err = b.blink.UpdateInstruction(payer, nftMint, params)
	case BlinkActionDonate:
		donation, derr := solana.PublicKeyFromBase58(req.DonationAddress)
		if derr != nil {
			return nil, Errorf(KindInvalidInput, "invalid donation_address: %q", req.DonationAddress)
		}
		ix, err = b.blink.DonateInstruction(payer, donation, nftMint)
	default:
		return nil, Errorf(KindInvalidInput, "action must be %s, %s, or %s",
			BlinkActionCreate, BlinkActionUpdate, BlinkActionDonate)
	}
	if err != nil {
		return nil, WrapError(KindInvalidInput, "invalid blink parameters", err)
	}

	instructions := []solana.Instruction{ix}
	if req.Memo != "" {
		instructions = append(instructions, newMemoInstruction(req.Memo, payer))
	}

	// Blinks move no funds; the ledger row tracks signing and submission
	// like any other pending transaction.
	return b.finish(ctx, instructions, payer, db.CreatePendingTransactionParams{
		Sender:      req.Payer,
		Recipient:   req.NFTMint,
		TokenID:     token.IDSol,
		Amount:      0,
		HumanAmount: "0",
		Memo:        optional(req.Memo),
	})
}
