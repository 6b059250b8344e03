// Package codec seals message bodies at rest with XChaCha20-Poly1305.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the required length of the at-rest key.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the length of the per-message nonce.
	NonceSize = chacha20poly1305.NonceSizeX

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	ErrDecryption = errors.New("message decryption failed")
	ErrInvalidKey = errors.New("invalid message key")
)

// Codec encrypts and decrypts message bodies with a fixed key.
// It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New builds a Codec from a raw 32-byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes (got %d): %w", KeySize, len(key), ErrInvalidKey)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// ParseKey accepts a base64 (std or url, padded or raw) or hex encoded 32-byte key.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("empty key: %w", ErrInvalidKey)
	}
	decoders := []func(string) ([]byte, error){
		hex.DecodeString,
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	}
	for _, decode := range decoders {
		if key, err := decode(encoded); err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("key must decode to %d bytes: %w", KeySize, ErrInvalidKey)
}

// DeriveKey stretches a passphrase into a message key with Argon2id.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" || salt == "" {
		return nil, fmt.Errorf("passphrase and salt are required: %w", ErrInvalidKey)
	}
	return argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, KeySize), nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Codec) Encrypt(plaintext string) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nil, nonce, []byte(plaintext), nil), nonce, nil
}

// Decrypt opens ciphertext with the nonce it was sealed under.
// Any mismatch between key, nonce and ciphertext yields ErrDecryption.
func (c *Codec) Decrypt(ciphertext, nonce []byte) (string, error) {
	if len(nonce) != NonceSize {
		return "", fmt.Errorf("nonce must be %d bytes (got %d): %w", NonceSize, len(nonce), ErrDecryption)
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
