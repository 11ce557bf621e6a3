package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/types"
)

var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and remember the session on this device",
	Long: `Authenticate against the sync server.

The session token is stored in the config file and used by every later
command until logout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}

		login, err := readLogin()
		if err != nil {
			return err
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := app.Login(ctx, login, password); err != nil {
			return fmt.Errorf("login: %w", err)
		}

		fmt.Println("Logged in.")
		if app.Config().Workspace == "" {
			fmt.Println("Next: or3sync workspace create <name>, or workspace use <id>")
		}
		return nil
	},
}

var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.Logout(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Println("Logged out. Unsent writes stay in the local outbox.")
		return nil
	},
}
