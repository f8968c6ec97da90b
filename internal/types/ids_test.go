// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if id == "" {
		t.Error("expected non-empty SessionID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestIdempotencyKeysAreUnique(t *testing.T) {
	a, b := NewIdempotencyKey(), NewIdempotencyKey()
	if a == b {
		t.Errorf("expected distinct keys, got %s twice", a)
	}
}
