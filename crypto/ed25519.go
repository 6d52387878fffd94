package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// SigningKeyPair is a member's long-lived Ed25519 identity key. Private
// holds the 32-byte seed, not the expanded 64-byte ed25519.PrivateKey.
type SigningKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateSigningKeyPair creates a new random Ed25519 signing key pair for
// use as a member's MLS credential / frame-signing identity.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	kp := &SigningKeyPair{}
	copy(kp.Public[:], pub)
	copy(kp.Private[:], priv.Seed())
	return kp, nil
}

// Sign creates an Ed25519 signature for a message using the private key.
func Sign(message []byte, privateKey [32]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	// Convert the 32-byte private key to the format expected by ed25519
	// Ed25519 private keys are 64 bytes (32 bytes seed + 32 bytes public key)
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])

	// Sign the message
	signatureBytes := ed25519.Sign(edPrivateKey, message)

	var signature Signature
	copy(signature[:], signatureBytes)

	return signature, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}

	// Convert the 32-byte public key to the format expected by ed25519
	var edPublicKey [ed25519.PublicKeySize]byte
	copy(edPublicKey[:], publicKey[:])

	// Verify the signature
	return ed25519.Verify(edPublicKey[:], message, signature[:]), nil
}
