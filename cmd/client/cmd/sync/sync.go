package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/types"
	"or3sync/internal/app/client"
)

var (
	syncStatus bool
	watch      bool
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push local writes and pull remote changes",
	Long: `sync pushes the outbox of the selected workspace, then pulls every change
past the local cursor and acknowledges it.

With --watch it keeps syncing every sync_interval until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}

		switch {
		case syncStatus:
			return showStatus(cmd.Context(), app)
		case watch:
			fmt.Printf("Syncing every %s, Ctrl+C to stop.\n", app.Config().SyncInterval)
			return app.Watch(cmd.Context())
		default:
			return runSync(cmd.Context(), app)
		}
	},
}

func runSync(ctx context.Context, app *client.App) error {
	res, err := app.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if res.Resynced {
		color.Yellow("The server no longer had history for this replica; it was rebuilt from a snapshot.")
	}
	fmt.Printf("Pushed %d (duplicates %d, conflicts %d)\n", res.Pushed, res.Duplicates, res.Conflicts)
	fmt.Printf("Pulled %d, applied %d\n", res.Pulled, res.Applied)
	fmt.Printf("Cursor %d, took %s\n", res.Cursor, res.Duration.Round(time.Millisecond))
	if res.Rejected > 0 {
		color.Red("%d writes were rejected by the server, see sync --status", res.Rejected)
	}
	return nil
}

func showStatus(ctx context.Context, app *client.App) error {
	st, err := app.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Workspace: %s\n", st.WorkspaceID)
	fmt.Printf("Cursor:    %d\n", st.Cursor)
	if !st.SyncedAt.IsZero() {
		fmt.Printf("Synced at: %s\n", st.SyncedAt.Format(time.DateTime))
	}
	fmt.Printf("Rows:      %d\n", st.Records)
	fmt.Printf("Pending:   %d\n", st.Pending)
	fmt.Printf("Rejected:  %d\n", st.Rejected)

	fmt.Print("Server:    ")
	if err := app.CheckConnection(ctx); err != nil {
		color.Red("unreachable: %v", err)
	} else {
		color.Green("ok")
	}
	return nil
}

func init() {
	SyncCmd.Flags().BoolVar(&syncStatus, "status", false, "show replica status instead of syncing")
	SyncCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep syncing until interrupted")
}
