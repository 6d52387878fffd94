package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	room := testRoomID(0x01)
	f, err := NewFrame(OpAppMessage, room, 7, []byte("ciphertext goes here"))
	require.NoError(t, err)

	encoded := f.Encode()
	parsed, err := ParseFrame(encoded)
	require.NoError(t, err)

	assert.Equal(t, f.Header.Opcode(), parsed.Header.Opcode())
	assert.Equal(t, f.Header.RoomID(), parsed.Header.RoomID())
	assert.Equal(t, f.Payload, parsed.Payload)
}

func TestParseFrameRejectsSizeMismatch(t *testing.T) {
	room := testRoomID(0x02)
	f, err := NewFrame(OpAppMessage, room, 1, []byte("hello"))
	require.NoError(t, err)

	encoded := f.Encode()
	// Corrupt payload_size to claim more bytes than are present.
	encoded[15] = 0xFF
	_, err = ParseFrame(encoded)
	assert.ErrorIs(t, err, ErrPayloadSizeMismat)
}

func TestParseFrameRejectsZeroRoomForSequencedOpcode(t *testing.T) {
	h := NewHeader()
	h.SetOpcode(OpAppMessage)
	h.SetSenderID(1)
	h.SetPayloadSize(1)
	buf := append(h.Encode(), []byte("x")...)

	_, err := ParseFrame(buf)
	assert.ErrorIs(t, err, ErrZeroRoomID)
}

func TestNewFrameRejectsOversizePayload(t *testing.T) {
	room := testRoomID(0x03)
	_, err := NewFrame(OpAppMessage, room, 1, make([]byte, 17*1024*1024))
	assert.Error(t, err)
}

func TestWelcomeFrameToleratesZeroRoomCheck(t *testing.T) {
	// Welcome frames are not room-sequenced in the opcode classification,
	// so a zero room id (unused for Welcome routing) must not be rejected.
	h := NewHeader()
	h.SetOpcode(OpWelcome)
	h.SetSenderID(1)
	h.SetRecipientID(9)
	payload := []byte("welcome-bytes")
	h.SetPayloadSize(uint32(len(payload)))
	buf := append(h.Encode(), payload...)

	_, err := ParseFrame(buf)
	assert.NoError(t, err)
}
