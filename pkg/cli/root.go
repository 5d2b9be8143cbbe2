package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "peek",
		Short: "peek is an in-process HTTP request inspector",
		Long: `peek captures every request an HTTP server handles, keeps the most recent
ones in memory, streams them live and replays them on demand.

'peek serve' runs a demo application with the inspector mounted at /__peek.
'peek tail' follows a running inspector from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newTailCmd(), newVersionCmd())
	return root
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "peek %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
