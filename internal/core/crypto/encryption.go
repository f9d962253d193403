// Package crypto provides the cryptographic primitives used for secret
// material: random tokens and passwords, argon2id password hashing, and
// AES-256-GCM sealing of secret copies placed in backups.
// This is part of the Functional Core - apart from reading crypto/rand, all
// functions are pure with no I/O.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrKeyTooShort is returned when the encryption key is too short.
	ErrKeyTooShort = errors.New("encryption key must be at least 32 bytes")

	// ErrInvalidCiphertext is returned when decryption fails due to invalid ciphertext.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// =============================================================================
// Key Derivation
// =============================================================================

// SaltSize is the salt length used for passphrase sealing.
const SaltSize = 16

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using
// argon2id. Same passphrase and salt always produce the same key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// =============================================================================
// AES-256-GCM Encryption
// =============================================================================

// Encrypt encrypts plaintext using AES-256-GCM with the provided key.
// The key must be at least 32 bytes; only the first 32 are used.
//
// The ciphertext format is: nonce (12 bytes) || encrypted data || auth tag (16 bytes)
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) < 32 {
		return nil, ErrKeyTooShort
	}

	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// =============================================================================
// Passphrase Sealing
// =============================================================================

// Seal encrypts plaintext under a key derived from passphrase and returns
// base64 text: salt || nonce || ciphertext || tag.
func Seal(plaintext []byte, passphrase string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	ciphertext, err := Encrypt(plaintext, DeriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(salt, ciphertext...)), nil
}

// Open reverses Seal.
func Open(sealed string, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	if len(raw) < SaltSize {
		return nil, ErrInvalidCiphertext
	}
	return Decrypt(raw[SaltSize:], DeriveKey(passphrase, raw[:SaltSize]))
}
