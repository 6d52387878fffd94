package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloPayloadRoundTrip(t *testing.T) {
	sender := uint64(99)
	want := HelloPayload{
		Version:      1,
		Capabilities: []string{"sync-v2"},
		SenderID:     &sender,
		AuthToken:    []byte("token"),
	}

	encoded, err := EncodePayload(want)
	require.NoError(t, err)

	var got HelloPayload
	require.NoError(t, DecodePayload(encoded, &got))
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Capabilities, got.Capabilities)
	require.NotNil(t, got.SenderID)
	assert.Equal(t, *want.SenderID, *got.SenderID)
	assert.Equal(t, want.AuthToken, got.AuthToken)
}

func TestEncryptedMessagePayloadRoundTrip(t *testing.T) {
	want := EncryptedMessagePayload{
		Epoch:       3,
		SenderIndex: 1,
		Generation:  5,
		Nonce:       []byte("0123456789ab"),
		Ciphertext:  []byte("ciphertext-bytes"),
	}

	encoded, err := EncodePayload(want)
	require.NoError(t, err)

	var got EncryptedMessagePayload
	require.NoError(t, DecodePayload(encoded, &got))
	assert.Equal(t, want, got)
}

func TestEncodeIsDeterministic(t *testing.T) {
	p := SyncRequestPayload{FromLogIndex: 10, Limit: 50}
	a, err := EncodePayload(p)
	require.NoError(t, err)
	b, err := EncodePayload(p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestErrorPayloadOptionalRetryAfter(t *testing.T) {
	p := ErrorPayload{Code: ErrCodeRoomNotFound, Message: "no such room"}
	encoded, err := EncodePayload(p)
	require.NoError(t, err)

	var got ErrorPayload
	require.NoError(t, DecodePayload(encoded, &got))
	assert.Nil(t, got.RetryAfter)
	assert.Equal(t, ErrCodeRoomNotFound, got.Code)
}

func TestKeyPackageFetchEmptyMeansNotFound(t *testing.T) {
	p := KeyPackageFetchPayload{UserID: 5}
	encoded, err := EncodePayload(p)
	require.NoError(t, err)

	var got KeyPackageFetchPayload
	require.NoError(t, DecodePayload(encoded, &got))
	assert.Empty(t, got.KeyPackageBytes)
	assert.Empty(t, got.HashRef)
}

func TestOpcodeClassification(t *testing.T) {
	assert.True(t, OpAppMessage.IsRoomSequenced())
	assert.False(t, OpWelcome.IsRoomSequenced())
	assert.True(t, OpHello.IsSessionLayer())
	assert.False(t, OpCommit.IsSessionLayer())
	assert.True(t, OpCommit.Valid())
}
