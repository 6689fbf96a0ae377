// Package provider invokes an external model provider on behalf of a step,
// choosing between an HTTP transport (API key or OAuth) and a CLI
// subprocess transport depending on what credentials are actually usable.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	pkgerrors "github.com/fyreflow/engine/pkg/errors"
)

// AuthMode selects how a provider expects to be authenticated.
type AuthMode string

const (
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeOAuth  AuthMode = "oauth"
)

// Kind identifies which concrete HTTP wire format or CLI binary a provider
// speaks.
type Kind string

const (
	KindOpenAI           Kind = "openai"
	KindAnthropic        Kind = "anthropic"
	KindBedrockAnthropic Kind = "bedrock_anthropic"
)

// Config describes one configured provider: how to reach it and which
// transport it prefers.
type Config struct {
	ID       string
	Kind     Kind
	AuthMode AuthMode

	APIKey      string
	OAuthToken  string
	BaseURL     string

	// AWSRegion selects the Bedrock runtime endpoint region for
	// KindBedrockAnthropic; credentials are resolved from the standard AWS
	// provider chain (env vars, shared config, instance/task role).
	AWSRegion string

	CLIBinary       string // e.g. "codex", "claude"
	SkipPermissions bool   // use --dangerously-skip-permissions instead of --permission-mode bypassPermissions

	// PermissionMode, when non-empty, is passed via --permission-mode
	// directly and takes priority over SkipPermissions.
	PermissionMode string
	// StrictMCP attaches --strict-mcp-config to a Claude CLI invocation.
	StrictMCP bool
	// DisableSlashCommands attaches --disable-slash-commands.
	DisableSlashCommands bool
	// SettingSources attaches --setting-sources <value>; defaults to "user"
	// when empty.
	SettingSources string

	// MCPServers is the named registry a step's EnabledMCPServerIDs
	// indexes into when building a CLI invocation's --mcp-config file.
	MCPServers map[string]MCPServerSpec
}

// MCPServerSpec is one named entry of a provider's MCP server registry: an
// stdio command to launch, or an HTTP/SSE URL to connect to. Exactly one of
// Command or URL is expected to be set.
type MCPServerSpec struct {
	Command string
	Args    []string
	URL     string
}

// Request is everything an invocation needs: the composed prompt/context
// plus the step-level knobs that shape transport selection and request
// shape.
type Request struct {
	Role                string
	Model               string
	ReasoningEffort     string
	SystemPrompt        string
	Context             string
	ContextWindowTokens int
	Use1MContext        bool
	FastMode            bool
	OutputFormat        string // "markdown" | "json"
	JSONSchema          string
	StageTimeoutMS      int

	// EnabledMCPServerIDs names the subset of Config.MCPServers a CLI
	// transport invocation should expose to the invoked agent.
	EnabledMCPServerIDs []string
}

// Invoker is the abstract C5 contract: invoke a provider and return the
// accumulated output text.
type Invoker interface {
	Invoke(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error)
}

// SelectTransport decides which transport an invocation should use, per
// spec.md's ordering: a usable API key wins, then a usable OAuth token,
// then CLI as the universal fallback. Fast-mode is only ever honored on
// the API-key path; every other outcome forces it off with a reason.
//
// A credential that is present but unusable (undecrypted ciphertext, an
// OAuth token with an unrecognized shape) is a provider-fatal condition,
// not a reason to fall back to CLI: it returns a non-nil error the caller
// must fail the step attempt with, rather than silently degrading
// transport.
func SelectTransport(cfg Config) (transport string, fastModeAllowed bool, reason string, err error) {
	if cfg.Kind == KindBedrockAnthropic {
		return "http", false, "bedrock credentials come from the AWS provider chain, not fast_mode-eligible API keys", nil
	}

	if cfg.AuthMode == AuthModeAPIKey && cfg.APIKey != "" {
		if looksLikeUndecryptedCiphertext(cfg.APIKey) {
			return "", false, "", &pkgerrors.ProviderError{
				Provider: string(cfg.Kind),
				Message:  fmt.Sprintf("credential for provider %q cannot be decrypted", cfg.ID),
			}
		}
		return "http", true, "", nil
	}

	if cfg.OAuthToken != "" {
		if !oauthShapeValid(cfg.Kind, cfg.OAuthToken) {
			return "", false, "", &pkgerrors.ProviderError{
				Provider: string(cfg.Kind),
				Message:  fmt.Sprintf("oauth token for provider %q has an unusable shape", cfg.ID),
			}
		}
		return "http", false, "oauth transport does not support fast_mode", nil
	}

	return "cli", false, "no usable API key or OAuth token; falling back to CLI", nil
}

const ciphertextPrefix = "enc:v1:"

// looksLikeUndecryptedCiphertext reports whether a stored secret still
// looks like sealed ciphertext, meaning decryption upstream failed.
func looksLikeUndecryptedCiphertext(secret string) bool {
	return len(secret) >= len(ciphertextPrefix) && secret[:len(ciphertextPrefix)] == ciphertextPrefix
}

const claudeOAuthSetupTokenPrefix = "sk-ant-oat01-"

// oauthShapeValid checks the provider-specific OAuth token shape. Only
// Claude's setup-token format is currently recognized; other provider
// kinds reject any OAuth token since they have no defined shape.
func oauthShapeValid(kind Kind, token string) bool {
	if kind != KindAnthropic {
		return false
	}
	return len(token) > len(claudeOAuthSetupTokenPrefix) && token[:len(claudeOAuthSetupTokenPrefix)] == claudeOAuthSetupTokenPrefix
}
