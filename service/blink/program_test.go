package blink

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgramID = "BPFLoaderUpgradeab1e11111111111111111111111"

func testParams() Params {
	return Params{
		Color:           "#ff8800",
		DurationSeconds: 2.5,
		Text:            "gm",
		Font:            "mono",
		BackgroundColor: "001122",
		QRCodeAddress:   "https://example.com/pay",
		QRCodeType:      "url",
	}
}

func TestNewProgram(t *testing.T) {
	p, err := NewProgram(testProgramID)
	require.NoError(t, err)
	assert.Equal(t, testProgramID, p.ProgramID().String())

	_, err = NewProgram("not-base58!!")
	require.Error(t, err)
}

func TestDeriveAddress(t *testing.T) {
	p, err := NewProgram(testProgramID)
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	a, err := p.DeriveAddress(mint)
	require.NoError(t, err)
	b, err := p.DeriveAddress(mint)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := p.DeriveAddress(solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestCreateInstruction(t *testing.T) {
	p, err := NewProgram(testProgramID)
	require.NoError(t, err)

	payer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	ix, err := p.CreateInstruction(payer, mint, testParams())
	require.NoError(t, err)
	assert.Equal(t, p.ProgramID(), ix.ProgramID())

	accounts := ix.Accounts()
	require.Len(t, accounts, 5)
	assert.Equal(t, payer, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.True(t, accounts[0].IsWritable)
	assert.True(t, accounts[1].IsWritable)
	assert.False(t, accounts[1].IsSigner)
	assert.Equal(t, mint, accounts[2].PublicKey)
	assert.Equal(t, solana.SystemProgramID, accounts[3].PublicKey)
	assert.Equal(t, solana.SysVarRentPubkey, accounts[4].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(instructionCreate), data[0])
	assert.Equal(t, []byte{0xff, 0x88, 0x00}, data[1:4])
	duration := math.Float32frombits(binary.LittleEndian.Uint32(data[4:8]))
	assert.InDelta(t, 2.5, duration, 0.0001)
	assert.Equal(t, "gm", string(data[8:10]))
}

func TestUpdateInstruction(t *testing.T) {
	p, err := NewProgram(testProgramID)
	require.NoError(t, err)

	ix, err := p.UpdateInstruction(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), testParams())
	require.NoError(t, err)

	require.Len(t, ix.Accounts(), 3)
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(instructionUpdate), data[0])
}

func TestDonateInstruction(t *testing.T) {
	p, err := NewProgram(testProgramID)
	require.NoError(t, err)

	payer := solana.NewWallet().PublicKey()
	donation := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	ix, err := p.DonateInstruction(payer, donation, mint)
	require.NoError(t, err)

	accounts := ix.Accounts()
	require.Len(t, accounts, 3)
	assert.Equal(t, donation, accounts[2].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 33)
	assert.Equal(t, byte(instructionDonate), data[0])
	assert.Equal(t, donation.Bytes(), data[1:33])
}

func TestEncodeParamsRejects(t *testing.T) {
	p, err := NewProgram(testProgramID)
	require.NoError(t, err)
	payer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	bad := testParams()
	bad.Color = "#zzzzzz"
	_, err = p.CreateInstruction(payer, mint, bad)
	require.Error(t, err)

	bad = testParams()
	bad.BackgroundColor = "#ffff"
	_, err = p.CreateInstruction(payer, mint, bad)
	require.Error(t, err)

	bad = testParams()
	bad.DurationSeconds = 0
	_, err = p.CreateInstruction(payer, mint, bad)
	require.Error(t, err)
}

func TestDecodeState(t *testing.T) {
	qrAddr := solana.NewWallet().PublicKey()

	data := make([]byte, 0, 120)
	data = append(data, 0xff, 0x88, 0x00)
	duration := make([]byte, 4)
	binary.LittleEndian.PutUint32(duration, math.Float32bits(1.5))
	data = append(data, duration...)

	text := make([]byte, 32)
	copy(text, "hello")
	data = append(data, text...)

	font := make([]byte, 32)
	copy(font, "mono")
	data = append(data, font...)

	data = append(data, 0x00, 0x11, 0x22)
	data = append(data, qrAddr.Bytes()...)
	data = append(data, []byte("url\x00")...)

	state, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, "#ff8800", state.Color)
	assert.InDelta(t, 1.5, state.DurationSeconds, 0.0001)
	assert.Equal(t, "hello", state.Text)
	assert.Equal(t, "mono", state.Font)
	assert.Equal(t, "#001122", state.BackgroundColor)
	assert.Equal(t, qrAddr.String(), state.QRCodeAddress)
	assert.Equal(t, "url", state.QRCodeType)

	_, err = DecodeState(make([]byte, 10))
	require.Error(t, err)
}
