package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

type fakeReader struct {
	run       *run.Run
	runErr    error
	pipelines []*flow.Flow
	listErr   error
}

func (f *fakeReader) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	return f.run, f.runErr
}

func (f *fakeReader) ListPipelines(ctx context.Context) ([]*flow.Flow, error) {
	return f.pipelines, f.listErr
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func TestNew_RequiresReader(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_DefaultsNameAndVersion(t *testing.T) {
	s, err := New(Config{Reader: &fakeReader{}})
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestHandleGetRun_MissingRunIDReturnsError(t *testing.T) {
	s, err := New(Config{Reader: &fakeReader{}})
	require.NoError(t, err)

	result, err := s.handleGetRun(context.Background(), toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetRun_ReturnsJSONPayload(t *testing.T) {
	reader := &fakeReader{run: &run.Run{ID: "run-1"}}
	s, err := New(Config{Reader: reader})
	require.NoError(t, err)

	result, err := s.handleGetRun(context.Background(), toolRequest(map[string]any{"run_id": "run-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var decoded run.Run
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	assert.Equal(t, "run-1", decoded.ID)
}

func TestHandleGetRun_ReaderErrorSurfacesAsToolError(t *testing.T) {
	reader := &fakeReader{runErr: errors.New("not found")}
	s, err := New(Config{Reader: reader})
	require.NoError(t, err)

	result, err := s.handleGetRun(context.Background(), toolRequest(map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListPipelines_ReturnsJSONPayload(t *testing.T) {
	reader := &fakeReader{pipelines: []*flow.Flow{{ID: "flow-1"}}}
	s, err := New(Config{Reader: reader})
	require.NoError(t, err)

	result, err := s.handleListPipelines(context.Background(), toolRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var decoded []*flow.Flow
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "flow-1", decoded[0].ID)
}

func TestHandleListPipelines_ReaderErrorSurfacesAsToolError(t *testing.T) {
	reader := &fakeReader{listErr: errors.New("store unavailable")}
	s, err := New(Config{Reader: reader})
	require.NoError(t, err)

	result, err := s.handleListPipelines(context.Background(), toolRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
