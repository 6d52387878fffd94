package senderkey

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/lockframe/crypto"
	"golang.org/x/crypto/chacha20poly1305"
)

// MaxGenerationJump bounds how far Decrypt will advance a peer's ratchet to
// catch up to an incoming generation. Beyond this, we reject rather than
// spend unbounded CPU walking the chain forward.
const MaxGenerationJump = 1000

// NonceRandomSize is the number of random bytes at the front of the
// 12-byte AEAD nonce; the remaining 4 bytes are the big-endian generation
// counter, giving every generation a fresh nonce even if the random bytes
// collided (they won't, but the generation counter makes it moot).
const NonceRandomSize = 8

var (
	// ErrReplayOrOutOfOrder indicates the incoming generation is behind the
	// ratchet's current position.
	ErrReplayOrOutOfOrder = errors.New("replay or out-of-order message")
	// ErrRatchetTooFarAhead indicates the incoming generation exceeds
	// MaxGenerationJump beyond the current position.
	ErrRatchetTooFarAhead = errors.New("ratchet generation too far ahead")
	// ErrDecryptFailed indicates the AEAD open failed (wrong key or
	// tampered ciphertext).
	ErrDecryptFailed = errors.New("decryption failed")
)

// ratchet is a single leaf's symmetric chain. Generation 0's chain key
// seeds generation 1's chain key and generation 0's message key, and so on.
type ratchet struct {
	generation uint32
	chainKey   [32]byte
}

func newRatchet(seed [32]byte) *ratchet {
	return &ratchet{generation: 0, chainKey: seed}
}

// step derives this generation's message key and advances the chain key to
// the next generation in place. It returns the message key for the
// generation the ratchet was at before stepping.
func (r *ratchet) step() ([32]byte, error) {
	var genBytes [4]byte
	binary.BigEndian.PutUint32(genBytes[:], r.generation)

	msgKeyBytes, err := crypto.DeriveSecret(r.chainKey[:], "lockframe sender key message", genBytes[:], 32)
	if err != nil {
		return [32]byte{}, fmt.Errorf("derive message key: %w", err)
	}
	nextChainBytes, err := crypto.DeriveSecret(r.chainKey[:], "lockframe sender key chain", genBytes[:], 32)
	if err != nil {
		return [32]byte{}, fmt.Errorf("derive next chain key: %w", err)
	}

	var msgKey [32]byte
	copy(msgKey[:], msgKeyBytes)
	copy(r.chainKey[:], nextChainBytes)
	r.generation++

	return msgKey, nil
}

func aeadSeal(key [32]byte, nonce []byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("build AEAD: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func aeadOpen(key [32]byte, nonce []byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("build AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func buildNonce(random [NonceRandomSize]byte, generation uint32) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[:NonceRandomSize], random[:])
	binary.BigEndian.PutUint32(nonce[NonceRandomSize:], generation)
	return nonce
}
