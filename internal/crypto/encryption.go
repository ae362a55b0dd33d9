// Package crypto seals exchange credentials at rest with AES-256-GCM under a
// key derived from an operator passphrase.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	KeyLength     = 32
	SaltSize      = 16
	Argon2Time    = 3
	Argon2Memory  = 64 * 1024
	Argon2Threads = 4
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrEmptyPassphrase   = errors.New("encryption passphrase must not be empty")
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication tag mismatch")
)

// Sealer encrypts values bound to a context string (associated data), so a
// ciphertext copied onto another credential record fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a raw 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromPassphrase derives the key with Argon2id. The salt string is
// hashed to a fixed size so operators can configure any value.
func NewSealerFromPassphrase(passphrase, salt string) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	saltSum := sha256.Sum256([]byte(salt))
	key := argon2.IDKey([]byte(passphrase), saltSum[:SaltSize], Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
	return NewSealer(key)
}

// Seal returns base64(nonce || ciphertext).
func (s *Sealer) Seal(plaintext, associated string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(associated))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. The associated data must match.
func (s *Sealer) Open(encoded, associated string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], []byte(associated))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// MaskKey shows the first and last four characters only.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
