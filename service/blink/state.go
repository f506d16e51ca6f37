package blink

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// minStateSize covers the fixed-offset fields up to the QR code type tail.
const minStateSize = 106

// State is the decoded on-chain blink account.
type State struct {
	Color           string  `json:"color"`
	DurationSeconds float64 `json:"duration_seconds"`
	Text            string  `json:"text"`
	Font            string  `json:"font"`
	BackgroundColor string  `json:"background_color"`
	QRCodeAddress   string  `json:"qr_code_address"`
	QRCodeType      string  `json:"qr_code_type"`
}

// DecodeState parses raw blink account data. Text fields are stored as
// zero-padded fixed slots.
func DecodeState(data []byte) (*State, error) {
	if len(data) < minStateSize {
		return nil, fmt.Errorf("blink account data too short: %d bytes", len(data))
	}

	duration := math.Float32frombits(binary.LittleEndian.Uint32(data[3:7]))
	qrAddress := solana.PublicKeyFromBytes(data[74:106])

	return &State{
		Color:           "#" + hex.EncodeToString(data[0:3]),
		DurationSeconds: float64(duration),
		Text:            trimPadding(data[7:39]),
		Font:            trimPadding(data[39:71]),
		BackgroundColor: "#" + hex.EncodeToString(data[71:74]),
		QRCodeAddress:   qrAddress.String(),
		QRCodeType:      trimPadding(data[106:]),
	}, nil
}

func trimPadding(b []byte) string {
	return string(bytes.ReplaceAll(bytes.TrimRight(b, "\x00"), []byte{0}, nil))
}
