package backend

import (
	"bytes"
	"testing"
)

func TestComputeAuthResponse_KnownVector(t *testing.T) {
	salt := zeroSalt()
	got, err := computeAuthResponse([]byte("secret"), salt)
	if err != nil {
		t.Fatalf("computeAuthResponse: %v", err)
	}
	want := nativePasswordHash("secret", salt)
	if !bytes.Equal(got, want) {
		t.Errorf("computeAuthResponse(%q, zero salt) = %x, want %x", "secret", got, want)
	}
}

func TestComputeAuthResponse_EmptyPassword(t *testing.T) {
	got, err := computeAuthResponse(nil, zeroSalt())
	if err != nil {
		t.Fatalf("computeAuthResponse: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("computeAuthResponse(empty password) = %x, want empty", got)
	}
}
