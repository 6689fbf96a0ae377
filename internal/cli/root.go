package cli

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c string) {
	version, commit = v, c
}

// Globals holds the root command's persistent flags, read by every
// subcommand to build a Client.
type Globals struct {
	ServerURL string
	Token     string
	JSON      bool
}

// NewRootCommand builds the root Cobra command for fyreflow, the terminal
// client for a fyreflowd instance.
func NewRootCommand() *cobra.Command {
	g := &Globals{}

	cmd := &cobra.Command{
		Use:   "fyreflow",
		Short: "fyreflow - cyclic multi-agent pipeline runner",
		Long: `fyreflow is a command-line client for a fyreflowd instance: it starts
pipeline runs, watches their progress, and resolves approval gates raised
mid-run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.ServerURL, "server", "http://localhost:8080", "fyreflowd base URL")
	cmd.PersistentFlags().StringVar(&g.Token, "token", "", "API bearer token (or FYREFLOW_TOKEN)")
	cmd.PersistentFlags().BoolVar(&g.JSON, "json", false, "output raw JSON instead of rendered text")

	cmd.AddCommand(
		newRunCommand(g),
		newPipelineCommand(g),
		newVersionCommand(),
		newMCPServerCommand(g),
		newSecretsCommand(),
		newDescribeCommand(cmd),
	)

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print fyreflow's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("fyreflow %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}

func clientFor(g *Globals) *Client {
	token := g.Token
	if token == "" {
		token = envToken()
	}
	return NewClient(g.ServerURL, token)
}
