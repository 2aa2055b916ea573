package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// EncryptedStore wraps a Store, encrypting every value at rest with
// AES-256-GCM. No library in the dependency pack offers symmetric
// at-rest encryption, so this one component is built on the standard
// library's crypto/aes and crypto/cipher rather than a third-party dep.
type EncryptedStore struct {
	inner Store
	key   [32]byte
}

// NewEncryptedStore derives a 256-bit key from keyMaterial (the wallet's
// private key bytes) via SHA-256, matching spec.md §4.1's key schedule.
func NewEncryptedStore(inner Store, keyMaterial []byte) *EncryptedStore {
	return &EncryptedStore{inner: inner, key: sha256.Sum256(keyMaterial)}
}

// Put encrypts data with a fresh random nonce, prepended to the ciphertext.
func (s *EncryptedStore) Put(ctx context.Context, key Key, data []byte) error {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return fmt.Errorf("store: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("store: building gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("store: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, data, nil)
	return s.inner.Put(ctx, key, sealed)
}

// Get decrypts the value stored under key.
func (s *EncryptedStore) Get(ctx context.Context, key Key) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("store: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("store: building gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("store: ciphertext too short for key %s", key)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
