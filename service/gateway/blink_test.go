package gateway

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milton-labs/paygate/service/blink"
	"github.com/milton-labs/paygate/service/token"
)

const testBlinkProgramID = "BPFLoaderUpgradeab1e11111111111111111111111"

func blinkRequest(payer, mint string) BlinkRequest {
	return BlinkRequest{
		Payer:           payer,
		NFTMint:         mint,
		Action:          BlinkActionCreate,
		Color:           "#ff8800",
		DurationSeconds: 2,
		Text:            "gm",
		Font:            "mono",
		BackgroundColor: "#001122",
		QRCodeAddress:   "https://example.com/pay",
		QRCodeType:      "url",
	}
}

func TestBuildBlink(t *testing.T) {
	f := newBuilderFixture(t)
	program, err := blink.NewProgram(testBlinkProgramID)
	require.NoError(t, err)
	f.builder.WithBlinkProgram(program)

	payer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	t.Run("create", func(t *testing.T) {
		result, err := f.builder.BuildBlink(context.Background(), blinkRequest(payer.String(), mint.String()))
		require.NoError(t, err)
		assert.NotEmpty(t, result.UnsignedTransaction)
		assert.Zero(t, result.Amount)

		rec, err := f.ledger.GetPendingTransaction(context.Background(), result.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, payer.String(), rec.Sender)
		assert.Equal(t, mint.String(), rec.Recipient)
		assert.Equal(t, token.IDSol, rec.TokenID)

		tx, err := DecodeTransaction(result.UnsignedTransaction)
		require.NoError(t, err)
		assert.Equal(t, payer, tx.Message.AccountKeys[0])
		require.Len(t, tx.Message.Instructions, 1)
	})

	t.Run("donate", func(t *testing.T) {
		result, err := f.builder.BuildBlink(context.Background(), BlinkRequest{
			Payer:           payer.String(),
			NFTMint:         mint.String(),
			Action:          BlinkActionDonate,
			DonationAddress: solana.NewWallet().PublicKey().String(),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, result.UnsignedTransaction)
	})

	t.Run("update with memo", func(t *testing.T) {
		req := blinkRequest(payer.String(), mint.String())
		req.Action = BlinkActionUpdate
		req.Memo = "refresh"
		result, err := f.builder.BuildBlink(context.Background(), req)
		require.NoError(t, err)

		tx, err := DecodeTransaction(result.UnsignedTransaction)
		require.NoError(t, err)
		require.Len(t, tx.Message.Instructions, 2)
	})

	t.Run("validation", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*BlinkRequest)
		}{
			{"bad payer", func(r *BlinkRequest) { r.Payer = "nope" }},
			{"bad mint", func(r *BlinkRequest) { r.NFTMint = "nope" }},
			{"bad action", func(r *BlinkRequest) { r.Action = "destroy" }},
			{"bad color", func(r *BlinkRequest) { r.Color = "#xyz" }},
			{"zero duration", func(r *BlinkRequest) { r.DurationSeconds = 0 }},
			{"donate without address", func(r *BlinkRequest) { r.Action = BlinkActionDonate; r.DonationAddress = "" }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				req := blinkRequest(payer.String(), mint.String())
				tc.mutate(&req)
				_, err := f.builder.BuildBlink(context.Background(), req)
				require.Error(t, err)
				assert.True(t, IsKind(err, KindInvalidInput))
			})
		}
	})
}

func TestBuildBlinkUnconfigured(t *testing.T) {
	f := newBuilderFixture(t)
	payer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	_, err := f.builder.BuildBlink(context.Background(), blinkRequest(payer.String(), mint.String()))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidInput))
}
