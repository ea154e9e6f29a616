package main

import (
	"cmp"
	"os"

	"github.com/spf13/cobra"

	"nexsync-auth/internal/client"
)

const defaultAPIURL = "http://localhost:8080"

type options struct {
	apiURL   string
	tokenDir string
}

// NewRootCmd creates the root command for the session client.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "nexsync",
		Short: "Sign in to a NexSync server and inspect the current session",
		Long: `nexsync keeps a bearer token in the user's runtime directory and checks
it against the server on every invocation.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", cmp.Or(os.Getenv("NEXSYNC_API_URL"), defaultAPIURL), "server base URL (env NEXSYNC_API_URL)")
	cmd.PersistentFlags().StringVar(&opts.tokenDir, "token-dir", client.DefaultRuntimeDir(), "directory holding the session token")

	cmd.AddCommand(newRegisterCmd(opts))
	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newWhoamiCmd(opts))
	cmd.AddCommand(newLogoutCmd(opts))
	cmd.AddCommand(newOpenCmd(opts))

	return cmd
}

func (o *options) controller() *client.Controller {
	return client.NewController(client.NewAPI(o.apiURL, nil), client.NewRuntimeSlot(o.tokenDir))
}
