package server

import "testing"

func TestKeyPackageRegistryTakeIsOneShot(t *testing.T) {
	reg := NewKeyPackageRegistry(0)
	reg.Store(1, KeyPackageEntry{KeyPackageBytes: []byte("kp")})

	entry, ok := reg.Take(1)
	if !ok || string(entry.KeyPackageBytes) != "kp" {
		t.Fatalf("expected kp entry, got %+v ok=%v", entry, ok)
	}
	if _, ok := reg.Take(1); ok {
		t.Fatal("second take should find nothing")
	}
}

func TestKeyPackageRegistryEvictsOldestOnOverflow(t *testing.T) {
	reg := NewKeyPackageRegistry(2)
	reg.Store(1, KeyPackageEntry{KeyPackageBytes: []byte("a")})
	reg.Store(2, KeyPackageEntry{KeyPackageBytes: []byte("b")})
	evicted := reg.Store(3, KeyPackageEntry{KeyPackageBytes: []byte("c")})

	if evicted == nil || *evicted != 1 {
		t.Fatalf("expected user 1 evicted, got %v", evicted)
	}
	if _, ok := reg.Take(1); ok {
		t.Fatal("evicted entry should be gone")
	}
	if _, ok := reg.Take(2); !ok {
		t.Fatal("user 2 should still be present")
	}
}

func TestKeyPackageRegistryStoreOverwrites(t *testing.T) {
	reg := NewKeyPackageRegistry(0)
	reg.Store(1, KeyPackageEntry{KeyPackageBytes: []byte("old")})
	reg.Store(1, KeyPackageEntry{KeyPackageBytes: []byte("new")})

	entry, ok := reg.Take(1)
	if !ok || string(entry.KeyPackageBytes) != "new" {
		t.Fatalf("expected overwritten entry, got %+v", entry)
	}
}
