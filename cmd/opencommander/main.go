// Command opencommander is the Open Commander server binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "opencommander",
		Short:        "Session orchestrator and WebSocket multiplexing proxy for containerized coding agents",
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCreateAdminCmd())
	return cmd
}
