package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/auth"
	"or3sync/cmd/client/cmd/record"
	"or3sync/cmd/client/cmd/sync"
	"or3sync/cmd/client/cmd/types"
	"or3sync/cmd/client/cmd/workspace"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Check the server connection and show the device identity",
	Long: `init prepares the local replica and prints where it lives.

The device id is generated once and kept in the config file; it names this
replica on the server and must not be shared between machines.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		c := app.Config()

		fmt.Printf("Config dir: %s\n", c.ConfigDir)
		fmt.Printf("Replica:    %s\n", c.DataPath)
		fmt.Printf("Device id:  %s\n", c.DeviceID)
		fmt.Printf("Server:     %s\n", c.ServerAddress)

		if err := app.CheckConnection(cmd.Context()); err != nil {
			fmt.Printf("Server is not reachable: %v\n", err)
			fmt.Println("Local writes still work and are pushed on the next sync.")
			return nil
		}
		fmt.Println("Server is reachable.")

		if !app.IsAuthenticated() {
			fmt.Println()
			fmt.Println("Next: or3sync auth register, then or3sync auth login")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(auth.AuthCmd)
	auth.AuthCmd.AddCommand(auth.RegisterCmd)
	auth.AuthCmd.AddCommand(auth.LoginCmd)
	auth.AuthCmd.AddCommand(auth.LogoutCmd)

	rootCmd.AddCommand(workspace.WorkspaceCmd)
	workspace.WorkspaceCmd.AddCommand(workspace.CreateCmd)
	workspace.WorkspaceCmd.AddCommand(workspace.ListCmd)
	workspace.WorkspaceCmd.AddCommand(workspace.UseCmd)
	workspace.WorkspaceCmd.AddCommand(workspace.AddMemberCmd)

	rootCmd.AddCommand(record.RecordCmd)
	record.RecordCmd.AddCommand(record.PutCmd)
	record.RecordCmd.AddCommand(record.GetCmd)
	record.RecordCmd.AddCommand(record.ListCmd)
	record.RecordCmd.AddCommand(record.DeleteCmd)

	rootCmd.AddCommand(sync.SyncCmd)
}
