package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveSecretDeterministic(t *testing.T) {
	secret := []byte("epoch-secret-0123456789abcdef01")

	a, err := DeriveSecret(secret, "lockframe sender keys v1", nil, 32)
	if err != nil {
		t.Fatalf("DeriveSecret() error: %v", err)
	}
	b, err := DeriveSecret(secret, "lockframe sender keys v1", nil, 32)
	if err != nil {
		t.Fatalf("DeriveSecret() error: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Fatalf("DeriveSecret() not deterministic: %x != %x", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("DeriveSecret() length = %d, want 32", len(a))
	}
}

func TestDeriveSecretContextSeparation(t *testing.T) {
	secret := []byte("epoch-secret-0123456789abcdef01")

	leaf0, err := DeriveSecret(secret, "lockframe sender keys v1", []byte{0}, 32)
	if err != nil {
		t.Fatalf("DeriveSecret() error: %v", err)
	}
	leaf1, err := DeriveSecret(secret, "lockframe sender keys v1", []byte{1}, 32)
	if err != nil {
		t.Fatalf("DeriveSecret() error: %v", err)
	}

	if bytes.Equal(leaf0, leaf1) {
		t.Fatalf("DeriveSecret() produced identical output for different contexts")
	}
}

func TestDeriveSecretLabelSeparation(t *testing.T) {
	secret := []byte("epoch-secret-0123456789abcdef01")

	a, err := DeriveSecret(secret, "label-a", nil, 32)
	if err != nil {
		t.Fatalf("DeriveSecret() error: %v", err)
	}
	b, err := DeriveSecret(secret, "label-b", nil, 32)
	if err != nil {
		t.Fatalf("DeriveSecret() error: %v", err)
	}

	if bytes.Equal(a, b) {
		t.Fatalf("DeriveSecret() produced identical output for different labels")
	}
}

func TestDeriveSecretEmptySecret(t *testing.T) {
	if _, err := DeriveSecret(nil, "label", nil, 32); err == nil {
		t.Fatalf("DeriveSecret() expected error for empty secret")
	}
}
