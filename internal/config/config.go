// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level runtime configuration: which providers are
// configured, how the scheduler and realtime hub are paced, and where
// CLI-transport binaries and auth secrets come from.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Runtime   RuntimeDefaults `yaml:"runtime_defaults"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`
	CLI       CLIConfig       `yaml:"cli"`

	// ProvidersMap names each configured provider (openai, anthropic, ...)
	// by an arbitrary id referenced from flow step definitions.
	ProvidersMap map[string]ProviderConfig `yaml:"providers"`

	// MCPServers names every MCP server a step may opt into via its
	// enabled_mcp_server_ids, keyed by the id flows reference.
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes one MCP server a CLI-transport invocation can
// be given access to. Exactly one of Command or URL is expected to be set:
// Command launches a local stdio server, URL connects to a remote one.
type MCPServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RuntimeDefaults are engine-wide defaults applied when a flow or step
// does not declare its own value.
type RuntimeDefaults struct {
	DefaultLoopBound      int `yaml:"default_loop_bound"`
	DefaultStageTimeoutMS int `yaml:"default_stage_timeout_ms"`
	MaxConcurrentRuns     int `yaml:"max_concurrent_runs"`
}

// RealtimeConfig paces the polling-diff fan-out hub (C10).
type RealtimeConfig struct {
	// PollIntervalMS is how often the hub re-polls the store for each
	// subscribed run. Environment: REALTIME_POLL_INTERVAL_MS.
	PollIntervalMS int `yaml:"poll_interval_ms"`
	// HeartbeatIntervalMS is the idle keep-alive cadence, independent of
	// whether anything changed. Environment: REALTIME_HEARTBEAT_INTERVAL_MS.
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
}

// SchedulerConfig paces the run scheduler's control-channel polling (C7).
type SchedulerConfig struct {
	// ControlPollMS is how often the scheduler checks for pause/cancel
	// control signals between step executions. Environment: SCHEDULER_CONTROL_POLL_MS.
	ControlPollMS int `yaml:"control_poll_ms"`
}

// SecurityConfig holds the HTTP/WS auth token and the at-rest
// provider-credential encryption key.
type SecurityConfig struct {
	// APIAuthToken is required for non-public endpoints and WS auth.
	// Environment: API_AUTH_TOKEN.
	APIAuthToken string `yaml:"-"`
	// SecretsKey is the symmetric key used to encrypt provider credentials
	// at rest. No warning is emitted when it is unset.
	// Environment: DASHBOARD_SECRETS_KEY.
	SecretsKey string `yaml:"-"`
	// CORSAllowOrigins lists origins permitted to reach the HTTP API.
	// Environment: CORS_ALLOW_ORIGINS (comma-separated).
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// CLIConfig resolves the executor-transport CLI binaries and the
// Claude-specific non-interactive safety flags.
type CLIConfig struct {
	// CodexPath is an explicit path to the codex binary. Environment:
	// CODEX_CLI_PATH; otherwise probe ~/.local/bin/codex then PATH.
	CodexPath string `yaml:"codex_path"`
	// ClaudePath is an explicit path to the claude binary. Environment:
	// CLAUDE_CLI_PATH; otherwise probe ~/.local/bin/claude then PATH.
	ClaudePath string `yaml:"claude_path"`

	// SkipPermissions selects --dangerously-skip-permissions over
	// --permission-mode bypassPermissions. Environment:
	// CLAUDE_CLI_SKIP_PERMISSIONS ("0" disables; default enabled).
	SkipPermissions bool `yaml:"skip_permissions"`
	// StrictMCP attaches --strict-mcp-config. Environment: CLAUDE_CLI_STRICT_MCP.
	StrictMCP bool `yaml:"strict_mcp"`
	// DisableSlashCommands attaches --disable-slash-commands. Environment:
	// CLAUDE_CLI_DISABLE_SLASH_COMMANDS.
	DisableSlashCommands bool `yaml:"disable_slash_commands"`
	// SettingSources attaches --setting-sources <value>. Environment:
	// CLAUDE_CLI_SETTING_SOURCES (default "user").
	SettingSources string `yaml:"setting_sources"`
	// PermissionMode is used in place of SkipPermissions when it is
	// explicitly set; one of acceptEdits, bypassPermissions, default,
	// dontAsk, plan. Environment: CLAUDE_CLI_PERMISSION_MODE.
	PermissionMode string `yaml:"permission_mode"`
}

// ProviderConfig describes one entry under providers: in the config file.
type ProviderConfig struct {
	Kind     string `yaml:"kind"` // "openai" | "anthropic" | "bedrock_anthropic"
	AuthMode string `yaml:"auth_mode"`
	APIKey   string `yaml:"api_key"` // literal, "enc:v1:..." envelope, or "keyring:<name>"
	BaseURL  string `yaml:"base_url"`

	// AWSRegion selects the Bedrock runtime endpoint region when Kind is
	// "bedrock_anthropic"; credentials come from the AWS provider chain,
	// not APIKey/OAuth fields.
	AWSRegion string `yaml:"aws_region"`

	// OAuth fields, only consulted when AuthMode is "oauth" and
	// OAuthRefreshToken is set; an access token is then minted from the
	// refresh grant each time the provider is resolved.
	OAuthClientID     string   `yaml:"oauth_client_id"`
	OAuthClientSecret string   `yaml:"oauth_client_secret"`
	OAuthTokenURL     string   `yaml:"oauth_token_url"`
	OAuthScopes       []string `yaml:"oauth_scopes"`
	OAuthRefreshToken string   `yaml:"oauth_refresh_token"`
}

// Default returns the baseline configuration before any file or
// environment overrides are applied.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Runtime: RuntimeDefaults{
			DefaultLoopBound:      50,
			DefaultStageTimeoutMS: 10 * 60 * 1000,
			MaxConcurrentRuns:     10,
		},
		Realtime: RealtimeConfig{
			PollIntervalMS:      200,
			HeartbeatIntervalMS: 30_000,
		},
		Scheduler: SchedulerConfig{
			ControlPollMS: 250,
		},
		CLI: CLIConfig{
			SkipPermissions:      true,
			SettingSources:       "user",
			StrictMCP:            true,
			DisableSlashCommands: true,
		},
		ProvidersMap: map[string]ProviderConfig{},
		MCPServers:   map[string]MCPServerConfig{},
	}
}

// Load builds configuration from defaults, an optional YAML file, and
// finally environment variables, in that order of increasing precedence.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	cfg.loadFromEnv()
	cfg.resolveCLIPaths()

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// loadFromEnv overlays recognized environment variables onto c. Environment
// variables always take precedence over file-based configuration.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if val := os.Getenv("API_AUTH_TOKEN"); val != "" {
		c.Security.APIAuthToken = val
	}
	if val := os.Getenv("DASHBOARD_SECRETS_KEY"); val != "" {
		c.Security.SecretsKey = val
	}
	if val := os.Getenv("CORS_ALLOW_ORIGINS"); val != "" {
		c.Security.CORSAllowOrigins = splitAndTrim(val)
	}

	if val := os.Getenv("CODEX_CLI_PATH"); val != "" {
		c.CLI.CodexPath = val
	}
	if val := os.Getenv("CLAUDE_CLI_PATH"); val != "" {
		c.CLI.ClaudePath = val
	}
	if val := os.Getenv("CLAUDE_CLI_SKIP_PERMISSIONS"); val != "" {
		c.CLI.SkipPermissions = val != "0" && strings.ToLower(val) != "false"
	}
	if val := os.Getenv("CLAUDE_CLI_STRICT_MCP"); val != "" {
		c.CLI.StrictMCP = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CLAUDE_CLI_DISABLE_SLASH_COMMANDS"); val != "" {
		c.CLI.DisableSlashCommands = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CLAUDE_CLI_SETTING_SOURCES"); val != "" {
		c.CLI.SettingSources = val
	}
	if val := os.Getenv("CLAUDE_CLI_PERMISSION_MODE"); val != "" {
		c.CLI.PermissionMode = val
	}

	if val := os.Getenv("REALTIME_POLL_INTERVAL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Realtime.PollIntervalMS = n
		}
	}
	if val := os.Getenv("REALTIME_HEARTBEAT_INTERVAL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Realtime.HeartbeatIntervalMS = n
		}
	}
	if val := os.Getenv("SCHEDULER_CONTROL_POLL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.ControlPollMS = n
		}
	}
	if val := os.Getenv("MAX_CONCURRENT_RUNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Runtime.MaxConcurrentRuns = n
		}
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveCLIPaths fills in CodexPath/ClaudePath when not set explicitly,
// probing ~/.local/bin/{codex,claude} and then PATH, per spec.
func (c *Config) resolveCLIPaths() {
	if c.CLI.CodexPath == "" {
		c.CLI.CodexPath = probeBinary("codex")
	}
	if c.CLI.ClaudePath == "" {
		c.CLI.ClaudePath = probeBinary("claude")
	}
}

func probeBinary(name string) string {
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".local", "bin", name)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	validPermissionModes := map[string]bool{
		"": true, "acceptEdits": true, "bypassPermissions": true, "default": true, "dontAsk": true, "plan": true,
	}
	if !validPermissionModes[c.CLI.PermissionMode] {
		errs = append(errs, fmt.Sprintf("cli.permission_mode must be one of [acceptEdits, bypassPermissions, default, dontAsk, plan], got %q", c.CLI.PermissionMode))
	}

	validProviderKinds := map[string]bool{"openai": true, "anthropic": true, "bedrock_anthropic": true}
	for id, p := range c.ProvidersMap {
		if !validProviderKinds[p.Kind] {
			errs = append(errs, fmt.Sprintf("providers[%q].kind must be one of [openai, anthropic, bedrock_anthropic], got %q", id, p.Kind))
		}
	}

	if c.Runtime.DefaultLoopBound <= 0 {
		errs = append(errs, "runtime_defaults.default_loop_bound must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
