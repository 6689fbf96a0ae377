package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/secrets"
)

func TestSealOpen_RoundTrips(t *testing.T) {
	sealed, err := secrets.Seal("correct-key", "sk-live-abc123")
	require.NoError(t, err)
	assert.True(t, secrets.IsEnvelope(sealed))

	plain, err := secrets.Open("correct-key", sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abc123", plain)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	sealed, err := secrets.Seal("correct-key", "sk-live-abc123")
	require.NoError(t, err)

	_, err = secrets.Open("wrong-key", sealed)
	assert.Error(t, err)
}

func TestOpen_RejectsNonEnvelope(t *testing.T) {
	_, err := secrets.Open("any-key", "sk-live-abc123")
	assert.Error(t, err)
}

func TestIsEnvelope(t *testing.T) {
	assert.True(t, secrets.IsEnvelope("enc:v1:abc"))
	assert.False(t, secrets.IsEnvelope("sk-live-abc123"))
}

func TestIsKeyringRef(t *testing.T) {
	assert.True(t, secrets.IsKeyringRef("keyring:openai-key"))
	assert.False(t, secrets.IsKeyringRef("sk-live-abc123"))
	assert.Equal(t, "openai-key", secrets.KeyringRefName("keyring:openai-key"))
}
