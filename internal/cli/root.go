// Package cli implements escrowctl, the operator command line.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Operate the escrow settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCmd())
	root.AddCommand(newEscrowCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

// Execute runs the command line with os.Args.
func Execute() error {
	return rootCmd.Execute()
}
