package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoomID(b byte) RoomID {
	var r RoomID
	for i := range r {
		r[i] = b
	}
	return r
}

func buildHeader(t *testing.T) *Header {
	t.Helper()
	h := NewHeader()
	h.SetOpcode(OpAppMessage)
	h.SetRequestID(42)
	h.SetRoomID(testRoomID(0xAB))
	h.SetSenderID(7)
	h.SetLogIndex(100)
	h.SetHLCTimestamp(123456)
	h.SetEpoch(3)
	var sig [64]byte
	for i := range sig {
		sig[i] = byte(i)
	}
	h.SetSignature(sig)
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := buildHeader(t)
	encoded := h.Encode()
	require.Len(t, encoded, HeaderSize)

	parsed, err := ParseHeader(encoded)
	require.NoError(t, err)

	assert.Equal(t, h.Magic(), parsed.Magic())
	assert.Equal(t, h.Version(), parsed.Version())
	assert.Equal(t, h.Opcode(), parsed.Opcode())
	assert.Equal(t, h.RequestID(), parsed.RequestID())
	assert.Equal(t, h.RoomID(), parsed.RoomID())
	assert.Equal(t, h.SenderID(), parsed.SenderID())
	assert.Equal(t, h.LogIndex(), parsed.LogIndex())
	assert.Equal(t, h.HLCTimestamp(), parsed.HLCTimestamp())
	assert.Equal(t, h.Epoch(), parsed.Epoch())
	assert.Equal(t, h.Signature(), parsed.Signature())
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	_, err := ParseHeader(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	h := buildHeader(t)
	buf := h.Encode()
	buf[0] ^= 0xFF
	_, err := ParseHeader(buf)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestParseHeaderRejectsBadVersion(t *testing.T) {
	h := buildHeader(t)
	buf := h.Encode()
	buf[4] = 0x02
	_, err := ParseHeader(buf)
	assert.ErrorIs(t, err, ErrUnsupportedVer)
}

func TestSigningDataExcludesContextAndSignature(t *testing.T) {
	h := buildHeader(t)
	before := h.SigningData()

	h.SetLogIndex(999)
	var newSig [64]byte
	newSig[0] = 0xFF
	h.SetSignature(newSig)

	after := h.SigningData()
	assert.Equal(t, before, after, "signing_data must not change when context_id or signature is mutated")
}

func TestSigningDataLength(t *testing.T) {
	h := buildHeader(t)
	assert.Len(t, h.SigningData(), 56)
}

func TestLogIndexAndRecipientIDShareStorage(t *testing.T) {
	h := NewHeader()
	h.SetOpcode(OpWelcome)
	h.SetRecipientID(55)
	assert.Equal(t, uint64(55), h.RecipientID())
	assert.Equal(t, uint64(55), h.LogIndex())
}

func TestCloneIsIndependent(t *testing.T) {
	h := buildHeader(t)
	clone := h.Clone()
	clone.SetEpoch(999)
	assert.NotEqual(t, h.Epoch(), clone.Epoch())
}
