package crypt

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	c, err := New("sesame")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := []byte("user:42 -> {\"name\":\"Ada\"}")
	enc := c.Encrypt(plain)
	if bytes.Equal(enc, plain) {
		t.Fatal("ciphertext equals plaintext")
	}
	if got := c.Decrypt(enc); !bytes.Equal(got, plain) {
		t.Fatalf("Decrypt: got %q, want %q", got, plain)
	}
}

func TestDeterministic(t *testing.T) {
	c, err := New("sesame")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := c.Encrypt([]byte("user:42"))
	b := c.Encrypt([]byte("user:42"))
	if !bytes.Equal(a, b) {
		t.Fatal("encryption must be deterministic for key lookups")
	}
}

func TestDistinctSecretsDiverge(t *testing.T) {
	c1, _ := New("sesame")
	c2, _ := New("mellon")

	plain := []byte("user:42")
	if bytes.Equal(c1.Encrypt(plain), c2.Encrypt(plain)) {
		t.Fatal("different secrets produced identical ciphertext")
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("New: got %v, want ErrEmptySecret", err)
	}
}

func TestEmptyInput(t *testing.T) {
	c, _ := New("sesame")
	if got := c.Encrypt(nil); len(got) != 0 {
		t.Fatalf("Encrypt(nil): got %v", got)
	}
}
