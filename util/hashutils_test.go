package util

import "testing"

func TestHashConsistency(t *testing.T) {
	data := []byte("788788")
	if HashCode(data) != HashCode(data) {
		t.Errorf("hash should be deterministic")
	}
}

func TestUint64BytesHashIsStable(t *testing.T) {
	val := uint64(2)
	if HashCode(Uint64Bytes(val)) != HashCode(Uint64Bytes(val)) {
		t.Fatalf("expected stable hash for %d", val)
	}
}
