package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSecretValue_PipedInputIsTrimmed(t *testing.T) {
	value, err := readSecretValue(strings.NewReader("  sk-ant-abc123  \n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-abc123", value)
}

func TestReadSecretValue_EmptyPipedInput(t *testing.T) {
	value, err := readSecretValue(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, value)
}
