// Package mcpserver exposes a running fyreflowd instance's run and
// pipeline state as MCP tools, so an agent invoked by a step's own CLI
// transport (enabled_mcp_server_ids) can inspect the pipeline it is
// participating in.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

// RunReader is the subset of internal/cli.Client the MCP tools call
// through, kept as an interface so tests can substitute a fake instead of
// standing up a real daemon.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*run.Run, error)
	ListPipelines(ctx context.Context) ([]*flow.Flow, error)
}

// Config configures the server.
type Config struct {
	Name    string
	Version string
	Reader  RunReader
}

// Server wraps an MCP server exposing fyreflow_get_run and
// fyreflow_list_pipelines tools.
type Server struct {
	mcpServer *server.MCPServer
	reader    RunReader
}

// New builds a Server. Tool registration happens here so a caller can run
// it immediately via Serve.
func New(cfg Config) (*Server, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("mcpserver: Config.Reader must not be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "fyreflow"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version),
		reader:    cfg.Reader,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "fyreflow_get_run",
		Description: "Fetch the current status, step timeline, and outputs of a pipeline run by id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "The run id to look up",
				},
			},
			Required: []string{"run_id"},
		},
	}, s.handleGetRun)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "fyreflow_list_pipelines",
		Description: "List every pipeline flow known to this fyreflowd instance.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListPipelines)
}

func (s *Server) handleGetRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return errorResponse("Missing or invalid 'run_id' argument"), nil
	}

	r, err := s.reader.GetRun(ctx, runID)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return textResponse(string(payload)), nil
}

func (s *Server) handleListPipelines(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pipelines, err := s.reader.ListPipelines(ctx)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	payload, err := json.Marshal(pipelines)
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	return textResponse(string(payload)), nil
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

// Serve runs the server over stdio until stdio closes; ctx is not consulted.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcpServer)
}
