package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// EnvelopePrefix marks a config value as sealed ciphertext rather than a
// literal credential. provider.SelectTransport recognizes the same prefix
// and fails the attempt with a ProviderError when decryption wasn't possible.
const EnvelopePrefix = "enc:v1:"

// IsEnvelope reports whether raw is a sealed "enc:v1:" credential.
func IsEnvelope(raw string) bool {
	return strings.HasPrefix(raw, EnvelopePrefix)
}

// Seal encrypts plaintext under key (typically config.SecurityConfig.SecretsKey)
// and returns an "enc:v1:" envelope: base64url(nonce || ciphertext).
func Seal(key, plaintext string) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EnvelopePrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts an "enc:v1:" envelope produced by Seal. It returns an error
// (never a partial/garbage string) when key is wrong or raw is malformed,
// so callers can distinguish "decrypted" from "still ciphertext".
func Open(key, raw string) (string, error) {
	if !IsEnvelope(raw) {
		return "", errors.New("secrets: not an enc:v1: envelope")
	}
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, EnvelopePrefix))
	if err != nil {
		return "", fmt.Errorf("secrets: malformed envelope: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("secrets: envelope too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decryption failed (wrong key or corrupted envelope): %w", err)
	}
	return string(plaintext), nil
}

// newAEAD derives a 256-bit ChaCha20-Poly1305 key from the operator-supplied
// secrets key via SHA-256, so any non-empty string works as SecretsKey.
func newAEAD(key string) (cipher.AEAD, error) {
	if key == "" {
		return nil, errors.New("secrets: no secrets key configured")
	}
	sum := sha256.Sum256([]byte(key))
	return chacha20poly1305.New(sum[:])
}
