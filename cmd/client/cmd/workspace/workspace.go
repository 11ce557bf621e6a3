package workspace

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"or3sync/cmd/client/cmd/types"
)

// WorkspaceCmd groups workspace commands.
var WorkspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Create, list and select workspaces",
}

var CreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a workspace and select it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		id, err := app.CreateWorkspace(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		fmt.Printf("Created workspace %s (%s), now selected.\n", args[0], id)
		return nil
	},
}

var listJSON bool

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the workspaces you are a member of",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		list, err := app.Workspaces(cmd.Context())
		if err != nil {
			return fmt.Errorf("list workspaces: %w", err)
		}
		if listJSON {
			return types.PrintJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Println("No workspaces yet.")
			return nil
		}

		current := app.Config().Workspace
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tNAME\tROLE")
		for _, ws := range list {
			mark := ""
			if ws.ID == current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, ws.ID, ws.Name, ws.Role)
		}
		return w.Flush()
	},
}

var UseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Select the workspace later commands operate on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.UseWorkspace(args[0]); err != nil {
			return err
		}
		fmt.Printf("Using workspace %s.\n", args[0])
		return nil
	},
}

var memberRole string

var AddMemberCmd = &cobra.Command{
	Use:   "add-member <user-id>",
	Short: "Grant another user access to the selected workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.AppFrom(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.AddMember(cmd.Context(), args[0], memberRole); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		fmt.Printf("Added %s as %s.\n", args[0], memberRole)
		return nil
	},
}

func init() {
	ListCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	AddMemberCmd.Flags().StringVar(&memberRole, "role", "writer", "member role (writer, reader)")
}
