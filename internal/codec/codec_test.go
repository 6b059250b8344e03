package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func testKey(t *testing.T, fill byte) []byte {
	t.Helper()
	return bytes.Repeat([]byte{fill}, KeySize)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey(t, 7))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	inputs := []string{"", "Hello", "ünïcødé ✓ 你好", string(bytes.Repeat([]byte("x"), 10_000)), "line\nbreak\x00nul"}
	for _, in := range inputs {
		ciphertext, nonce, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if len(nonce) != NonceSize {
			t.Fatalf("expected nonce size %d, got %d", NonceSize, len(nonce))
		}
		if in != "" && bytes.Contains(ciphertext, []byte(in)) {
			t.Fatalf("ciphertext leaks plaintext")
		}
		out, err := c.Decrypt(ciphertext, nonce)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got %q want %q", out, in)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c, err := New(testKey(t, 1))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	ct1, n1, _ := c.Encrypt("same")
	ct2, n2, _ := c.Encrypt("same")
	if bytes.Equal(n1, n2) {
		t.Fatalf("expected distinct nonces")
	}
	if bytes.Equal(ct1, ct2) {
		t.Fatalf("expected distinct ciphertexts")
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	c, err := New(testKey(t, 2))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	ciphertext, nonce, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, otherNonce, _ := c.Encrypt("other")
	if _, err := c.Decrypt(ciphertext, otherNonce); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for mismatched nonce, got %v", err)
	}
	if _, err := c.Decrypt(ciphertext, nonce[:12]); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for short nonce, got %v", err)
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff
	if _, err := c.Decrypt(tampered, nonce); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for tampered ciphertext, got %v", err)
	}

	other, _ := New(testKey(t, 3))
	if _, err := other.Decrypt(ciphertext, nonce); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for wrong key, got %v", err)
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	raw := testKey(t, 9)
	for name, encoded := range map[string]string{
		"hex":        hex.EncodeToString(raw),
		"base64":     base64.StdEncoding.EncodeToString(raw),
		"base64-raw": base64.RawURLEncoding.EncodeToString(raw),
	} {
		key, err := ParseKey(encoded)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !bytes.Equal(key, raw) {
			t.Fatalf("%s: decoded key mismatch", name)
		}
	}

	if _, err := ParseKey("not-a-key"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1, err := DeriveKey("correct horse", "pepper")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, _ := DeriveKey("correct horse", "pepper")
	if !bytes.Equal(k1, k2) || len(k1) != KeySize {
		t.Fatalf("expected deterministic %d-byte key", KeySize)
	}
	if _, err := DeriveKey("", "pepper"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
