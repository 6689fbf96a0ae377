package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingHandler records every Debug-level record's message and
// key/value attributes so tests can assert on what logToolUses emitted.
type capturingHandler struct {
	records *[]capturedRecord
}

type capturedRecord struct {
	message string
	attrs   map[string]string
}

func newCapturingLogger() (*slog.Logger, *[]capturedRecord) {
	records := &[]capturedRecord{}
	return slog.New(&capturingHandler{records: records}), records
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]string)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	*h.records = append(*h.records, capturedRecord{message: r.Message, attrs: attrs})
	return nil
}

func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(string) slog.Handler      { return h }

func TestWriteMCPConfig_NoEnabledIDsReturnsEmptyPath(t *testing.T) {
	path, cleanup, err := writeMCPConfig(map[string]MCPServerSpec{
		"search": {Command: "mcp-search"},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.NotNil(t, cleanup)
}

func TestWriteMCPConfig_UnknownIDsIgnored(t *testing.T) {
	path, _, err := writeMCPConfig(map[string]MCPServerSpec{
		"search": {Command: "mcp-search"},
	}, []string{"does-not-exist"})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestWriteMCPConfig_WritesStdioAndURLServers(t *testing.T) {
	servers := map[string]MCPServerSpec{
		"search": {Command: "mcp-search", Args: []string{"--quiet"}},
		"remote": {URL: "https://mcp.example.com/sse"},
		"unused": {Command: "should-not-appear"},
	}

	path, cleanup, err := writeMCPConfig(servers, []string{"search", "remote"})
	require.NoError(t, err)
	require.NotEmpty(t, path)
	defer cleanup()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded mcpConfigFile
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Contains(t, decoded.MCPServers, "search")
	assert.Equal(t, "mcp-search", decoded.MCPServers["search"].Command)
	assert.Equal(t, []string{"--quiet"}, decoded.MCPServers["search"].Args)

	require.Contains(t, decoded.MCPServers, "remote")
	assert.Equal(t, "https://mcp.example.com/sse", decoded.MCPServers["remote"].URL)

	assert.NotContains(t, decoded.MCPServers, "unused")
}

func TestLogToolUses_ExtractsXMLToolCallBlock(t *testing.T) {
	log, records := newCapturingLogger()
	logToolUses(log, "some preamble <tool_call>ls -la</tool_call> trailer")

	require.Len(t, *records, 1)
	assert.Equal(t, "tool invocation", (*records)[0].message)
	assert.Equal(t, "ls -la", (*records)[0].attrs["tool_call"])
}

func TestLogToolUses_ExtractsJSONToolUseBlock(t *testing.T) {
	log, records := newCapturingLogger()
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"bash","input":{"command":"ls"}}]}}` + "\n"
	logToolUses(log, line)

	require.Len(t, *records, 1)
	assert.Equal(t, "tool invocation", (*records)[0].message)
	assert.Equal(t, "bash", (*records)[0].attrs["tool_use"])
	assert.Contains(t, (*records)[0].attrs["input"], "command")
}

func TestLogToolUses_ExtractsStringifiedToolInput(t *testing.T) {
	log, records := newCapturingLogger()
	line := `{"type":"tool_use","name":"outer","tool_input":"{\"type\":\"tool_use\",\"name\":\"inner\",\"input\":{\"x\":1}}"}` + "\n"
	logToolUses(log, line)

	require.Len(t, *records, 2)
	names := []string{(*records)[0].attrs["tool_use"], (*records)[1].attrs["tool_use"]}
	assert.Contains(t, names, "outer")
	assert.Contains(t, names, "inner")
}

func TestLogToolUses_IgnoresNonJSONNonXMLLines(t *testing.T) {
	log, records := newCapturingLogger()
	logToolUses(log, "plain text output with no tool markers\n")
	assert.Empty(t, *records)
}

func TestWriteMCPConfig_CleanupRemovesFile(t *testing.T) {
	path, cleanup, err := writeMCPConfig(map[string]MCPServerSpec{
		"search": {Command: "mcp-search"},
	}, []string{"search"})
	require.NoError(t, err)
	require.NotEmpty(t, path)

	cleanup()

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
