// Package secrets resolves provider credentials that aren't handed to the
// daemon directly in config: OS-keyring lookups, at-rest "enc:v1:" envelope
// decryption, and OAuth token refresh for provider.AuthModeOAuth.
package secrets

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ErrKeyringUnavailable means the OS keyring service couldn't be reached
// (headless server, locked session, unsupported platform).
var ErrKeyringUnavailable = errors.New("secrets: OS keyring unavailable")

// KeyringStore is a dev-mode fallback for provider credentials the operator
// would rather keep out of the config file entirely: `provider.api_key:
// "keyring:<name>"` resolves through here instead of being read literally.
type KeyringStore struct {
	service   string
	available bool
}

// NewKeyringStore probes the OS keyring under service (typically
// "fyreflow") and returns a store that degrades to unavailable rather than
// failing construction, since a locked keyring shouldn't crash the daemon.
func NewKeyringStore(service string) *KeyringStore {
	s := &KeyringStore{service: service, available: true}
	if _, err := keyring.Get(service, "__fyreflow_availability_probe__"); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		s.available = false
	}
	return s
}

// Available reports whether the keyring responded to the startup probe.
func (s *KeyringStore) Available() bool { return s.available }

// Get resolves name from the keyring.
func (s *KeyringStore) Get(name string) (string, error) {
	if !s.available {
		return "", ErrKeyringUnavailable
	}
	v, err := keyring.Get(s.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("secrets: keyring entry %q not found: %w", name, err)
		}
		return "", fmt.Errorf("secrets: keyring lookup failed: %w", err)
	}
	return v, nil
}

// Set stores name=value in the keyring.
func (s *KeyringStore) Set(name, value string) error {
	if !s.available {
		return ErrKeyringUnavailable
	}
	return keyring.Set(s.service, name, value)
}

// Delete removes name from the keyring.
func (s *KeyringStore) Delete(name string) error {
	if !s.available {
		return ErrKeyringUnavailable
	}
	if err := keyring.Delete(s.service, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("secrets: keyring entry %q not found: %w", name, err)
		}
		return fmt.Errorf("secrets: keyring delete failed: %w", err)
	}
	return nil
}

const keyringRefPrefix = "keyring:"

// IsKeyringRef reports whether raw names a keyring-backed credential.
func IsKeyringRef(raw string) bool {
	return len(raw) > len(keyringRefPrefix) && raw[:len(keyringRefPrefix)] == keyringRefPrefix
}

// KeyringRefName strips the "keyring:" scheme, panicking callers must guard
// with IsKeyringRef first.
func KeyringRefName(raw string) string {
	return raw[len(keyringRefPrefix):]
}
