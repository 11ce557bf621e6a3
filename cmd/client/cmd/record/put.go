package record

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/types"
)

var putFile string

var PutCmd = &cobra.Command{
	Use:   "put <table> <pk> [json]",
	Short: "Create or replace a row",
	Long: `put writes a JSON payload for (table, pk). The payload is taken from the
third argument, from --file, or from stdin when neither is given.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}

		var payload []byte
		switch {
		case len(args) == 3:
			payload = []byte(args[2])
		case putFile != "":
			payload, err = os.ReadFile(putFile)
		default:
			payload, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		e, err := app.Put(cmd.Context(), args[0], args[1], json.RawMessage(payload))
		if err != nil {
			return err
		}
		fmt.Printf("%s %s/%s queued (op %s)\n", e.Operation, e.TableName, e.PrimaryKey, e.OpID)
		return nil
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete <table> <pk>",
	Short: "Delete a row",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		e, err := app.Delete(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("delete %s/%s queued (op %s)\n", e.TableName, e.PrimaryKey, e.OpID)
		return nil
	},
}

func init() {
	PutCmd.Flags().StringVarP(&putFile, "file", "f", "", "read the payload from a file")
}
