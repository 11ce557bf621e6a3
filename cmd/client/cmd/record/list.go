package record

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/types"
)

var listJSON bool

var ListCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List the live rows of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		records, err := app.List(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("list %s: %w", args[0], err)
		}
		if listJSON {
			return types.PrintJSON(os.Stdout, records)
		}
		if len(records) == 0 {
			fmt.Println("No rows.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVERSION\tPAYLOAD")
		for _, rec := range records {
			version := "-"
			if rec.ServerVersion > 0 {
				version = fmt.Sprint(rec.ServerVersion)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", rec.PrimaryKey, version, truncate(string(rec.Payload), 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d rows\n", len(records))
		return nil
	},
}

func init() {
	ListCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
}
