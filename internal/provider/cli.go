package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
)

// CLITransport spawns a configured provider binary as a subprocess and
// collects its stdout as the invocation's output text.
type CLITransport struct{}

// NewCLITransport returns the subprocess transport.
func NewCLITransport() *CLITransport { return &CLITransport{} }

// Invoke runs cfg.CLIBinary with argv built from (req.Role, req.OutputFormat),
// samples progress while it runs, and returns accumulated stdout.
func (t *CLITransport) Invoke(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	args := BuildArgs(cfg, req)

	if len(req.EnabledMCPServerIDs) > 0 && isClaudeBinary(cfg.CLIBinary) {
		mcpConfigPath, cleanup, err := writeMCPConfig(cfg.MCPServers, req.EnabledMCPServerIDs)
		if err != nil {
			return "", fmt.Errorf("failed to prepare mcp config: %w", err)
		}
		if mcpConfigPath != "" {
			defer cleanup()
			args = append(args, "--mcp-config", mcpConfigPath)
		}
	}

	if log != nil {
		log.Debug("invoking provider CLI", "binary", cfg.CLIBinary, "argv", shellescape.QuoteCommand(append([]string{cfg.CLIBinary}, args...)))
	}

	var timeout time.Duration
	if req.StageTimeoutMS > 0 {
		timeout = time.Duration(req.StageTimeoutMS) * time.Millisecond
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, cfg.CLIBinary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start %s: %w", cfg.CLIBinary, err)
	}
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	lastLen := 0

	for {
		select {
		case err := <-done:
			if err != nil {
				return stdout.String(), fmt.Errorf("%s exited with error: %w (stderr: %s)", cfg.CLIBinary, err, stderr.String())
			}
			return stdout.String(), nil
		case <-ticker.C:
			chunkStart := lastLen
			sampleProgress(log, cfg.CLIBinary, start, stdout.Len(), stderr.Len(), &lastLen)
			logToolUses(log, stdout.String()[chunkStart:])
		}
	}
}

func sampleProgress(log *slog.Logger, binary string, start time.Time, stdoutLen, stderrLen int, lastLen *int) {
	if log == nil {
		return
	}
	idle := "n/a"
	if stdoutLen == *lastLen {
		idle = "stalled"
	}
	log.Debug("provider CLI progress",
		"binary", binary,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", stdoutLen,
		"stderr_bytes", stderrLen,
		"idle", idle,
	)
	*lastLen = stdoutLen
}

var toolUseBlock = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

// logToolUses scans a chunk of stream-json stdout for tool_use entries and
// logs a one-line summary per invocation found. Two shapes are recognized:
// xml-like <tool_call>...</tool_call> markers embedded in text content, and
// the stream-json tool_use blocks proper ({"type":"tool_use","name":...,
// "input":...}), including tool_input carried as a JSON-stringified string
// rather than a nested object.
func logToolUses(log *slog.Logger, chunk string) {
	if log == nil || chunk == "" {
		return
	}
	for _, m := range toolUseBlock.FindAllStringSubmatch(chunk, -1) {
		log.Debug("tool invocation", "tool_call", strings.TrimSpace(m[1]))
	}
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			continue
		}
		walkToolUses(log, decoded)
	}
}

// walkToolUses recursively descends an arbitrary stream-json structure
// looking for tool_use blocks, logging each one it finds, and descending
// into tool_input even when it arrives as a JSON-stringified field rather
// than a nested object.
func walkToolUses(log *slog.Logger, node any) {
	switch v := node.(type) {
	case map[string]any:
		if t, _ := v["type"].(string); t == "tool_use" {
			name, _ := v["name"].(string)
			log.Debug("tool invocation", "tool_use", name, "input", summarizeToolInput(v["input"]))
		}
		for key, child := range v {
			if key == "tool_input" {
				if raw, ok := child.(string); ok {
					var nested any
					if err := json.Unmarshal([]byte(raw), &nested); err == nil {
						walkToolUses(log, nested)
						continue
					}
				}
			}
			walkToolUses(log, child)
		}
	case []any:
		for _, child := range v {
			walkToolUses(log, child)
		}
	}
}

// summarizeToolInput renders a tool_use block's input as a clipped JSON
// string suitable for a single log line.
func summarizeToolInput(input any) string {
	if input == nil {
		return ""
	}
	b, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	const maxLen = 200
	if len(b) > maxLen {
		return string(b[:maxLen]) + "…"
	}
	return string(b)
}

// BuildArgs composes the argv for a step's CLI invocation per (role,
// output_mode). Claude gets its non-interactive safety flags; other CLI
// binaries (codex) get the bare role/output-format flags.
func BuildArgs(cfg Config, req Request) []string {
	var args []string

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.ReasoningEffort != "" {
		args = append(args, "--effort", req.ReasoningEffort)
	}

	switch req.Role {
	case "orchestrator":
		args = append(args, "--tools", "")
	case "review", "tester":
		if req.OutputFormat == "json" {
			if req.JSONSchema != "" {
				args = append(args, "--json-schema", req.JSONSchema)
			}
			args = append(args, "--output-format", "json")
		}
	case "executor", "analysis":
		args = append(args, "--output-format", "stream-json")
	}

	if isClaudeBinary(cfg.CLIBinary) {
		settingSources := cfg.SettingSources
		if settingSources == "" {
			settingSources = "user"
		}
		args = append(args, "--no-session-persistence", "--setting-sources", settingSources)
		if cfg.StrictMCP {
			args = append(args, "--strict-mcp-config")
		}
		if cfg.DisableSlashCommands {
			args = append(args, "--disable-slash-commands")
		}

		switch {
		case cfg.PermissionMode != "":
			args = append(args, "--permission-mode", cfg.PermissionMode)
		case cfg.SkipPermissions:
			args = append(args, "--dangerously-skip-permissions")
		default:
			args = append(args, "--permission-mode", "bypassPermissions")
		}
	}

	args = append(args, "-p", ComposePrompt(req))
	return args
}

func isClaudeBinary(binary string) bool {
	return strings.Contains(strings.ToLower(binary), "claude")
}

// mcpConfigFile mirrors the shape Claude CLI's --mcp-config flag expects:
// a top-level "mcpServers" map keyed by server id.
type mcpConfigFile struct {
	MCPServers map[string]mcpConfigServer `json:"mcpServers"`
}

type mcpConfigServer struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// writeMCPConfig filters servers down to enabledIDs and, if any resolve,
// writes a temp --mcp-config JSON file for the invocation to reference. It
// returns an empty path and a no-op cleanup when no enabled id is configured,
// so the caller can skip attaching the flag entirely.
func writeMCPConfig(servers map[string]MCPServerSpec, enabledIDs []string) (path string, cleanup func(), err error) {
	selected := make(map[string]mcpConfigServer, len(enabledIDs))
	for _, id := range enabledIDs {
		spec, ok := servers[id]
		if !ok {
			continue
		}
		selected[id] = mcpConfigServer{Command: spec.Command, Args: spec.Args, URL: spec.URL}
	}
	if len(selected) == 0 {
		return "", func() {}, nil
	}

	payload, err := json.Marshal(mcpConfigFile{MCPServers: selected})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal mcp config: %w", err)
	}

	f, err := os.CreateTemp("", "fyreflow-mcp-config-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create mcp config file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(payload); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to write mcp config file: %w", err)
	}

	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// compatibilityUnsupportedFlag matches CLI stderr indicating a flag this
// binary's installed version does not recognize.
var compatibilityUnsupportedFlag = regexp.MustCompile(`(?i)unknown (option|argument)|unrecognized option`)

// StripUnsupportedEffortFlag detects from stderr whether the installed CLI
// rejected --effort, and if so returns args with that flag pair removed so
// a retry can drop into a compatibility profile.
func StripUnsupportedEffortFlag(args []string, stderr string) ([]string, bool) {
	if !compatibilityUnsupportedFlag.MatchString(stderr) {
		return args, false
	}
	for i, a := range args {
		if a == "--effort" && i+1 < len(args) {
			return append(append([]string{}, args[:i]...), args[i+2:]...), true
		}
	}
	return args, false
}
