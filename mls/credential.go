package mls

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/opd-ai/lockframe/crypto"
)

// Credential is a member's long-lived identity: an Ed25519 public key,
// tagged with the stable member id it authenticates.
type Credential struct {
	MemberID  uint64   `cbor:"1,keyasint"`
	SigningPK [32]byte `cbor:"2,keyasint"`
}

// keyPackageData is the serializable form of a KeyPackage: a credential
// plus a one-time X25519 init key used to seal the joiner's Welcome.
type keyPackageData struct {
	MemberID  uint64   `cbor:"1,keyasint"`
	SigningPK [32]byte `cbor:"2,keyasint"`
	InitPK    [32]byte `cbor:"3,keyasint"`
}

// PendingJoinState is the private material reserved when a KeyPackage is
// generated and consumed when the matching Welcome arrives. It must be
// removed from the caller's pending-join map whether or not the join
// succeeds: the init key cannot be reused either way.
type PendingJoinState struct {
	MemberID  uint64
	InitSK    [32]byte
	SigningSK [32]byte
	HashRef   []byte
}

// GenerateKeyPackage produces a one-time KeyPackage for memberID, signed
// with signingKey, and the PendingJoinState needed to open the Welcome it
// will eventually be wrapped into.
func GenerateKeyPackage(memberID uint64, signing *crypto.SigningKeyPair) ([]byte, []byte, *PendingJoinState, error) {
	initKP, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate init key: %w", err)
	}

	kp := keyPackageData{
		MemberID:  memberID,
		SigningPK: signing.Public,
		InitPK:    initKP.Public,
	}
	kpBytes, err := cbor.Marshal(kp)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal key package: %w", err)
	}

	hash := sha256.Sum256(kpBytes)
	hashRef := hash[:16]

	pending := &PendingJoinState{
		MemberID:  memberID,
		InitSK:    initKP.Private,
		SigningSK: signing.Private,
		HashRef:   hashRef,
	}

	return kpBytes, hashRef, pending, nil
}

func parseKeyPackage(kpBytes []byte) (keyPackageData, error) {
	var kp keyPackageData
	if err := cbor.Unmarshal(kpBytes, &kp); err != nil {
		return keyPackageData{}, fmt.Errorf("unmarshal key package: %w", err)
	}
	return kp, nil
}
