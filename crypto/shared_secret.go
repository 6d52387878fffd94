package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSecret expands a secret via HKDF-SHA256, binding the output to label
// and context the way an MLS exporter binds an epoch secret to a usage
// label. It is the primitive the senderkey package uses to turn an epoch
// secret into per-leaf ratchet seeds.
func DeriveSecret(secret []byte, label string, context []byte, outLen int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	info := append([]byte(label), context...)
	reader := hkdf.New(sha256.New, secret, nil, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
