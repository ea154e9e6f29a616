package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the server CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexsync-auth",
		Short: "NexSync account and session service",
		Long: `nexsync-auth issues bearer tokens for registered accounts and
verifies them on every protected request.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
