package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"
)

// Nonce is a 24-byte value used for NaCl box encryption.
type Nonce [24]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		logrus.WithError(err).Error("failed to generate nonce")
		return Nonce{}, err
	}
	return nonce, nil
}

// MaxMessageSize bounds the plaintext accepted by Encrypt, well above the
// size of a Welcome's per-member secret bundle.
const MaxMessageSize = 1024 * 1024

// Encrypt seals message with NaCl box against recipientPK, authenticated by
// senderSK. It is used to seal a Welcome's per-member secrets to the
// joiner's KeyPackage init key.
func Encrypt(message []byte, nonce Nonce, recipientPK [32]byte, senderSK [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}
	if len(message) > MaxMessageSize {
		return nil, errors.New("message too large")
	}

	encrypted := box.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&recipientPK), (*[32]byte)(&senderSK))
	out := make([]byte, len(encrypted))
	copy(out, encrypted)
	return out, nil
}
