package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPipelineCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect pipelines known to the daemon",
	}
	cmd.AddCommand(newPipelineListCommand(g))
	return cmd
}

func newPipelineListCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(g)
			pipelines, err := c.ListPipelines(cmd.Context())
			if err != nil {
				return NewServerError("failed to list pipelines", err)
			}
			if g.JSON {
				return printJSON(cmd, pipelines)
			}
			for _, p := range pipelines {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d steps)\n", p.ID, p.Name, len(p.Steps))
			}
			return nil
		},
	}
}
