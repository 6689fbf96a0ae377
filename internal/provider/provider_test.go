package provider_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/internal/provider"
)

func TestSelectTransport_APIKeyWins(t *testing.T) {
	cfg := provider.Config{AuthMode: provider.AuthModeAPIKey, APIKey: "sk-live-abc"}
	transport, fast, _, err := provider.SelectTransport(cfg)
	assert.NoError(t, err)
	assert.Equal(t, "http", transport)
	assert.True(t, fast)
}

func TestSelectTransport_UndecryptedCiphertextFailsFast(t *testing.T) {
	cfg := provider.Config{AuthMode: provider.AuthModeAPIKey, APIKey: "enc:v1:abcdef"}
	_, _, _, err := provider.SelectTransport(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be decrypted")
}

func TestSelectTransport_ValidClaudeOAuthToken(t *testing.T) {
	cfg := provider.Config{Kind: provider.KindAnthropic, OAuthToken: "sk-ant-REDACTED"}
	transport, fast, _, err := provider.SelectTransport(cfg)
	assert.NoError(t, err)
	assert.Equal(t, "http", transport)
	assert.False(t, fast)
}

func TestSelectTransport_InvalidOAuthShapeFailsFast(t *testing.T) {
	cfg := provider.Config{Kind: provider.KindAnthropic, OAuthToken: "not-a-real-token"}
	_, _, _, err := provider.SelectTransport(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unusable shape")
}

func TestSelectTransport_BedrockAlwaysUsesHTTP(t *testing.T) {
	cfg := provider.Config{Kind: provider.KindBedrockAnthropic, AWSRegion: "us-west-2"}
	transport, fast, reason, err := provider.SelectTransport(cfg)
	assert.NoError(t, err)
	assert.Equal(t, "http", transport)
	assert.False(t, fast)
	assert.NotEmpty(t, reason)
}

func TestSelectTransport_NoCredentialsFallsBackToCLI(t *testing.T) {
	cfg := provider.Config{}
	transport, fast, reason, err := provider.SelectTransport(cfg)
	assert.NoError(t, err)
	assert.Equal(t, "cli", transport)
	assert.False(t, fast)
	assert.NotEmpty(t, reason)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, provider.RetryableStatus(429))
	assert.True(t, provider.RetryableStatus(503))
	assert.False(t, provider.RetryableStatus(400))
	assert.False(t, provider.RetryableStatus(404))
}

func TestBackoff_HonorsRetryAfter(t *testing.T) {
	d := provider.Backoff(1, 3*time.Second)
	assert.Equal(t, 3*time.Second, d)
}

func TestBackoff_ExponentialWithinBounds(t *testing.T) {
	d := provider.Backoff(3, 0)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 9*time.Second) // capped at 8s plus jitter headroom
}

func TestBuildArgs_OrchestratorDisablesTools(t *testing.T) {
	cfg := provider.Config{CLIBinary: "codex"}
	req := provider.Request{Role: "orchestrator", Context: "do the thing"}
	args := provider.BuildArgs(cfg, req)
	assert.Contains(t, args, "--tools")
}

func TestBuildArgs_ReviewJSONModeAttachesSchema(t *testing.T) {
	cfg := provider.Config{CLIBinary: "codex"}
	req := provider.Request{Role: "review", OutputFormat: "json", JSONSchema: `{"type":"object"}`, Context: "check it"}
	args := provider.BuildArgs(cfg, req)
	assert.Contains(t, args, "--json-schema")
	assert.Contains(t, args, "--output-format")
}

func TestBuildArgs_ClaudeAddsSafetyFlags(t *testing.T) {
	cfg := provider.Config{CLIBinary: "claude", StrictMCP: true, DisableSlashCommands: true}
	req := provider.Request{Role: "executor", Context: "write the file"}
	args := provider.BuildArgs(cfg, req)
	assert.Contains(t, args, "--strict-mcp-config")
	assert.Contains(t, args, "--disable-slash-commands")
}

func TestBuildArgs_ClaudeSafetyFlagsGatedByConfig(t *testing.T) {
	cfg := provider.Config{CLIBinary: "claude"}
	req := provider.Request{Role: "executor", Context: "write the file"}
	args := provider.BuildArgs(cfg, req)
	assert.NotContains(t, args, "--strict-mcp-config")
	assert.NotContains(t, args, "--disable-slash-commands")
}

func TestBuildArgs_ClaudePermissionModeOverridesSkipPermissions(t *testing.T) {
	cfg := provider.Config{CLIBinary: "claude", PermissionMode: "acceptEdits", SkipPermissions: true}
	req := provider.Request{Role: "executor", Context: "write the file"}
	args := provider.BuildArgs(cfg, req)
	assert.Contains(t, args, "acceptEdits")
	assert.NotContains(t, args, "--dangerously-skip-permissions")
}

func TestBuildArgs_ClaudeDefaultsPermissionModeWhenUnset(t *testing.T) {
	cfg := provider.Config{CLIBinary: "claude"}
	req := provider.Request{Role: "executor", Context: "write the file"}
	args := provider.BuildArgs(cfg, req)
	assert.Contains(t, args, "bypassPermissions")
}

func TestBuildArgs_NonClaudeSkipsSafetyFlags(t *testing.T) {
	cfg := provider.Config{CLIBinary: "codex"}
	req := provider.Request{Role: "executor", Context: "write the file"}
	args := provider.BuildArgs(cfg, req)
	assert.NotContains(t, args, "--strict-mcp-config")
}

func TestComposePrompt_PrependsSafetyHeader(t *testing.T) {
	req := provider.Request{Context: "hello"}
	prompt := provider.ComposePrompt(req)
	assert.Contains(t, prompt, "Runtime safety rules")
	assert.Contains(t, prompt, "hello")
}

func TestComposePrompt_AppendsDeckContractWhenRelevant(t *testing.T) {
	req := provider.Request{Context: "see frame-map.json and assets-manifest.json"}
	prompt := provider.ComposePrompt(req)
	assert.Contains(t, prompt, "Deck synthesis contract")
}

func TestComposePrompt_OmitsDeckContractOtherwise(t *testing.T) {
	req := provider.Request{Context: "plain task"}
	prompt := provider.ComposePrompt(req)
	assert.NotContains(t, prompt, "Deck synthesis contract")
}

func TestStripUnsupportedEffortFlag_RemovesPairWhenStderrMatches(t *testing.T) {
	args := []string{"--model", "x", "--effort", "high", "-p", "prompt"}
	out, stripped := provider.StripUnsupportedEffortFlag(args, "Error: unknown option '--effort'")
	assert.True(t, stripped)
	assert.NotContains(t, out, "--effort")
}

func TestStripUnsupportedEffortFlag_NoOpWhenStderrDoesNotMatch(t *testing.T) {
	args := []string{"--model", "x", "--effort", "high"}
	out, stripped := provider.StripUnsupportedEffortFlag(args, "some other error")
	assert.False(t, stripped)
	assert.Equal(t, args, out)
}
