package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nexsync-auth/internal/client"
	"nexsync-auth/internal/model"
)

func newRegisterCmd(opts *options) *cobra.Command {
	var name, email string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (does not sign in)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			user, err := opts.controller().Register(cmd.Context(), name, email, password)
			if err != nil {
				return describe(err)
			}
			cmd.Printf("Account created for %s. Run 'nexsync login' to sign in.\n", user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(opts *options) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			c := opts.controller()
			user, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return describe(err)
			}

			view, _ := client.Route(c.State(), client.ViewAuth)
			cmd.Printf("Signed in as %s (%s). Landing view: %s\n", user.DisplayName, user.Role, view)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Verify the stored session with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state := opts.controller().Restore(cmd.Context())
			if !state.Authenticated() {
				cmd.Println("Not signed in.")
				return nil
			}
			printUser(cmd, *state.User)
			return nil
		},
	}
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.controller().Logout()
			cmd.Println("Signed out.")
			return nil
		},
	}
}

func newOpenCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "open VIEW",
		Short: "Resolve which view the session may open (/, /home, /admin, /auth)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := opts.controller().Restore(cmd.Context())
			view, redirected := client.Route(state, client.View(args[0]))
			if redirected {
				cmd.Printf("%s -> %s\n", args[0], view)
				return nil
			}
			cmd.Println(view)
			return nil
		},
	}
}

func printUser(cmd *cobra.Command, user model.PublicAccount) {
	cmd.Printf("ID:    %s\n", user.ID)
	cmd.Printf("Name:  %s\n", user.DisplayName)
	cmd.Printf("Email: %s\n", user.Email)
	cmd.Printf("Role:  %s\n", user.Role)
}

func describe(err error) error {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrLoginFailed):
		return errors.New("invalid email or password")
	case errors.As(err, &apiErr):
		return errors.New(apiErr.Message)
	default:
		return err
	}
}
