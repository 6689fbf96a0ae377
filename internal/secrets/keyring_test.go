package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyreflow/engine/internal/secrets"
)

func TestKeyringStore_UnavailableStoreReturnsError(t *testing.T) {
	store := secrets.NewKeyringStore("fyreflow-test")
	if store.Available() {
		t.Skip("OS keyring is available in this environment; unavailable-path assertions don't apply")
	}
	_, err := store.Get("anything")
	assert.ErrorIs(t, err, secrets.ErrKeyringUnavailable)
}

func TestKeyringStore_UnavailableDeleteReturnsError(t *testing.T) {
	store := secrets.NewKeyringStore("fyreflow-test")
	if store.Available() {
		t.Skip("OS keyring is available in this environment; unavailable-path assertions don't apply")
	}
	err := store.Delete("anything")
	assert.ErrorIs(t, err, secrets.ErrKeyringUnavailable)
}

func TestIsKeyringRef_Table(t *testing.T) {
	cases := map[string]bool{
		"keyring:x": true,
		"keyring:":  false,
		"keyringx":  false,
		"":          false,
	}
	for in, want := range cases {
		assert.Equal(t, want, secrets.IsKeyringRef(in), in)
	}
}
