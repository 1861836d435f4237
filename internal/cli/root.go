// Package cli implements C10: the rs_guard command-line entrypoint.
// Command structure and flag conventions are grounded on
// latentloop-latentfs/internal/cli/commands/root.go's cobra.Command
// pattern (persistent flags, a root PersistentPreRunE, one file per
// subcommand); the graceful-shutdown idiom inside the run subcommand is
// grounded on the teacher's cmd/nocturne/main.go (context.WithCancel plus
// a signal.Notify goroutine calling cancel).
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

// NewRootCommand builds the rs_guard cobra command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "rs_guard",
		Short: "Continuous Reed-Solomon protection for a set of directories",
		Long:  "rs_guard watches a set of directories, erasure-codes every file into data and parity shards, and repairs damage detected by periodic integrity sweeps.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "rs_guard.toml", "path to the TOML config file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newInitCommand())
	return root
}
