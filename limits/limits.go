// Package limits centralizes the frame and payload size bounds enforced by
// the wire codec, the sequencer, and storage, so all three agree on a single
// set of numbers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed size of a frame header in bytes.
	HeaderSize = 128

	// MaxPayloadSize is the largest payload a frame may carry (16 MiB).
	MaxPayloadSize = 16 * 1024 * 1024

	// MaxFrameSize is the largest a complete (header + payload) frame may be.
	MaxFrameSize = HeaderSize + MaxPayloadSize

	// MaxEpoch bounds the epoch counter accepted by the sequencer's
	// structural validation pass.
	MaxEpoch = 1<<63 - 1
)

var (
	// ErrPayloadEmpty indicates a zero-length payload was rejected where one was required.
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeded MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidatePayloadSize checks payload against maxSize, returning an error
// that names both sizes when the bound is exceeded.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	if len(payload) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateFramePayload checks a frame payload against MaxPayloadSize.
func ValidateFramePayload(payload []byte) error {
	return ValidatePayloadSize(payload, MaxPayloadSize)
}
