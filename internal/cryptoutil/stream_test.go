package cryptoutil

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestStreamRoundTrip(t *testing.T) {
	key := testKey(t)
	plain := []byte("HELLO\nLOG\n")

	var sealed bytes.Buffer
	w, err := EncryptWriter(&sealed, key)
	if err != nil {
		t.Fatalf("encrypt writer: %v", err)
	}
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if bytes.Contains(sealed.Bytes(), plain) {
		t.Fatalf("ciphertext contains plaintext")
	}

	r, err := DecryptReader(bytes.NewReader(sealed.Bytes()), key)
	if err != nil {
		t.Fatalf("decrypt reader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestStreamWrongKeyFails(t *testing.T) {
	plain := []byte("HELLO\nLOG\n")

	var sealed bytes.Buffer
	w, err := EncryptWriter(&sealed, testKey(t))
	if err != nil {
		t.Fatalf("encrypt writer: %v", err)
	}
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := DecryptReader(bytes.NewReader(sealed.Bytes()), testKey(t))
	if err == nil {
		_, err = io.ReadAll(r)
	}
	if err == nil {
		t.Fatalf("expected decryption with wrong key to fail")
	}
}

func TestStreamTamperedFails(t *testing.T) {
	key := testKey(t)
	plain := []byte("HELLO\nLOG\n")

	var sealed bytes.Buffer
	w, err := EncryptWriter(&sealed, key)
	if err != nil {
		t.Fatalf("encrypt writer: %v", err)
	}
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	tampered := sealed.Bytes()
	tampered[len(tampered)-1] ^= 0xff

	r, err := DecryptReader(bytes.NewReader(tampered), key)
	if err == nil {
		_, err = io.ReadAll(r)
	}
	if err == nil {
		t.Fatalf("expected tampered ciphertext to fail")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	key := testKey(t)
	plain := []byte("storage:\n  backend: local\n")
	sealed, err := EncryptConfig(plain, key)
	if err != nil {
		t.Fatalf("encrypt config: %v", err)
	}
	got, err := DecryptConfig(sealed, key)
	if err != nil {
		t.Fatalf("decrypt config: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}
