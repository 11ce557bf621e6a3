package record

import (
	"github.com/spf13/cobra"
)

// RecordCmd groups commands on the local replica of the selected workspace.
var RecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Read and write rows of the selected workspace",
	Long: `Writes go to the local replica and the outbox immediately and reach
the server on the next sync. Reads never touch the network.`,
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
