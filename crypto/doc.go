// Package crypto implements the cryptographic primitives shared by the rest
// of the module: Ed25519 identity/signature keys, X25519 box keys used to
// seal MLS Welcome secrets to a joiner's init key, HKDF-based secret
// derivation, and secure memory wiping for key material that must not
// outlive its use.
//
// # Identity and signing
//
// Every member owns a long-lived Ed25519 signing key. The public half is
// carried in the member's MLS credential; the private half signs every frame
// header sent on the wire (see the proto package's SigningData).
//
//	signing, _ := crypto.GenerateSigningKeyPair()
//	sig, _ := crypto.Sign(headerBytes, signing.Private)
//	ok, _ := crypto.Verify(headerBytes, sig, signing.Public)
//
// # Welcome sealing
//
// KeyPackages carry an X25519 "init key". When a committer builds a Welcome
// for a new member, the per-member secrets are sealed with NaCl box against
// that init key so only the intended joiner can open them.
//
//	kp, _ := crypto.GenerateKeyPair()
//	nonce, _ := crypto.GenerateNonce()
//	sealed, _ := crypto.Encrypt(welcomeSecrets, nonce, kp.Public, senderBoxPriv)
//
// # Secret derivation
//
// DeriveSecret wraps HKDF-SHA256 and is used to turn an MLS epoch secret into
// per-leaf sender-key ratchet seeds (see the senderkey package).
//
// # Secure memory
//
// Key material that is only needed transiently (a PendingJoinState's init
// private key, a consumed chain key) should be wiped with SecureWipe once it
// is no longer needed.
package crypto
