package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagMetadata is the JSON shape emitted by `fyreflow describe`, one entry
// per command flag, for scripts that introspect the CLI's surface rather
// than scraping --help text.
type flagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

type commandMetadata struct {
	Name        string         `json:"name"`
	Short       string         `json:"short"`
	Usage       string         `json:"usage"`
	Flags       []flagMetadata `json:"flags,omitempty"`
	Subcommands []string       `json:"subcommands,omitempty"`
}

func newDescribeCommand(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:    "describe [command]",
		Short:  "Print a command's flags and subcommands as JSON",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := root
			if len(args) > 0 {
				found, _, err := root.Find(args)
				if err != nil {
					return fmt.Errorf("command %q not found", args[0])
				}
				target = found
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(describeCommand(target))
		},
	}
}

func describeCommand(cmd *cobra.Command) commandMetadata {
	meta := commandMetadata{
		Name:  cmd.Name(),
		Short: cmd.Short,
		Usage: cmd.UseLine(),
	}

	seen := map[string]bool{}
	addFlag := func(f *pflag.Flag) {
		if f.Hidden || seen[f.Name] {
			return
		}
		seen[f.Name] = true
		meta.Flags = append(meta.Flags, flagMetadata{
			Name: f.Name, Shorthand: f.Shorthand, Usage: f.Usage, Default: f.DefValue,
		})
	}
	cmd.Flags().VisitAll(addFlag)
	cmd.PersistentFlags().VisitAll(addFlag)
	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			meta.Subcommands = append(meta.Subcommands, sub.Name())
		}
	}
	return meta
}
