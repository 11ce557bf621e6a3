package auth

import (
	"fmt"

	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/types"
)

const minPasswordLen = 8

var RegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the sync server",
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
		confirm, err := readPassword("Repeat password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}
		if len(password) < minPasswordLen {
			return fmt.Errorf("password must be at least %d characters", minPasswordLen)
		}

		userID, err := app.Register(cmd.Context(), login, password)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}

		fmt.Printf("Registered user %s.\n", userID)
		fmt.Println("Next: or3sync auth login")
		return nil
	},
}
