package record

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/types"
)

var getJSON bool

var GetCmd = &cobra.Command{
	Use:   "get <table> <pk>",
	Short: "Show one row of the local replica",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := app.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("get %s/%s: %w", args[0], args[1], err)
		}
		if getJSON {
			return types.PrintJSON(os.Stdout, rec)
		}

		fmt.Printf("Table:          %s\n", rec.TableName)
		fmt.Printf("Key:            %s\n", rec.PrimaryKey)
		fmt.Printf("Clock:          %s\n", rec.Clock)
		if rec.ServerVersion == 0 {
			fmt.Println("Server version: not yet synced")
		} else {
			fmt.Printf("Server version: %d\n", rec.ServerVersion)
		}
		if rec.Deleted {
			fmt.Println("Deleted")
			return nil
		}
		fmt.Println(string(rec.Payload))
		return nil
	},
}

func init() {
	GetCmd.Flags().BoolVar(&getJSON, "json", false, "print JSON")
}
