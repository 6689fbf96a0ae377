// Command fyreflow is the terminal client for a fyreflowd instance: it
// starts pipeline runs, watches their progress, and resolves approval gates
// raised mid-run, all through the daemon's REST surface.
package main

import (
	"github.com/fyreflow/engine/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)
	root := cli.NewRootCommand()
	cli.HandleExitError(root.Execute())
}
