package gateway

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// EncodeUnsignedTransaction serializes a transaction with zeroed signature
// slots to base64 wire format. Wallets expect the signature section to be
// present and sized to the message header, so the slots are padded rather
// than omitted.
func EncodeUnsignedTransaction(tx *solana.Transaction) (string, error) {
	required := int(tx.Message.Header.NumRequiredSignatures)
	tx.Signatures = make([]solana.Signature, required)

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64-encoded wire-format transaction.
func DecodeTransaction(txBase64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// memoProgramID is the SPL Memo v2 program.
var memoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// newMemoInstruction builds a Memo program instruction. The signer account
// binds the memo to the fee payer.
func newMemoInstruction(memo string, signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		memoProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(signer, false, true),
		},
		[]byte(memo),
	)
}
