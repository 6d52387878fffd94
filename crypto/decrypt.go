package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// Decrypt opens a ciphertext sealed by Encrypt.
func Decrypt(ciphertext []byte, nonce Nonce, senderPK [32]byte, recipientSK [32]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	decrypted, ok := box.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&senderPK), (*[32]byte)(&recipientSK))
	if !ok {
		return nil, errors.New("decryption failed")
	}
	return decrypted, nil
}
