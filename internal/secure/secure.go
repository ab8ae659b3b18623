// Package secure provides at-rest encryption for connection URIs, keyed by
// the ENCRYPTION_KEY environment variable.
package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrKeyNotConfigured is returned when no encryption key is available.
var ErrKeyNotConfigured = errors.New("encryption key is not configured")

// ErrDecryptFailed is returned when ciphertext fails to authenticate — wrong
// key or corrupted data.
var ErrDecryptFailed = errors.New("failed to decrypt: invalid key or corrupted data")

// Box encrypts and decrypts connection URIs with XChaCha20-Poly1305.
// A single Box is safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// NewBox constructs a Box from a base64-encoded 32-byte key, the format
// produced by GenerateKey and read from the ENCRYPTION_KEY environment
// variable.
func NewBox(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, ErrKeyNotConfigured
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct AEAD cipher: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext (a connection URI) into ciphertext with a random
// nonce prepended, suitable for storage in connections.uri_encrypted.
func (b *Box) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())

	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens ciphertext produced by Encrypt and returns the plaintext URI.
func (b *Box) Decrypt(ciphertext []byte) (string, error) {
	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptFailed
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}

// GenerateKey creates a new random base64-encoded 32-byte key suitable for
// ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)

	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(key), nil
}
