package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyreflow/engine/internal/mcpserver"
)

// newMCPServerCommand starts an MCP server, backed by a running fyreflowd
// instance over --server, exposing run/pipeline introspection tools to an
// AI assistant configured to launch "fyreflow mcp-server" over stdio. This
// is the companion to a flow step's enabled_mcp_server_ids: a step whose
// CLI-invoked agent is allowed to reach this server id can query the
// pipeline it is itself participating in.
func newMCPServerCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Start the fyreflow MCP server over stdio",
		Long: `Start the fyreflow MCP (Model Context Protocol) server.

The server runs in stdio mode, suitable for an MCP-capable agent's
configuration:

  {
    "mcpServers": {
      "fyreflow": {
        "command": "fyreflow",
        "args": ["mcp-server", "--server", "http://localhost:8080"]
      }
    }
  }

It exposes two tools: fyreflow_get_run and fyreflow_list_pipelines, both
backed by the fyreflowd instance at --server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := mcpserver.New(mcpserver.Config{
				Name:    "fyreflow",
				Version: version,
				Reader:  clientFor(g),
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			return srv.Serve(ctx)
		},
	}
}
