package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/construdata/permit-etl/internal/workspace"
)

var workspaceRoot string

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage pipeline workspaces",
	Long:  "Commands for listing, inspecting, archiving and deleting the per-run workspace directories.",
}

// -- workspace list --

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces under the workspace root",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := workspace.NewManager(workspaceRoot)
		if err != nil {
			return err
		}
		items, err := mgr.List()
		if err != nil {
			return eris.Wrap(err, "workspace list")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No workspaces found.")
			return nil
		}
		formatWorkspaceList(os.Stdout, items)
		return nil
	},
}

// -- workspace summary --

var workspaceSummaryCmd = &cobra.Command{
	Use:   "summary <path>",
	Short: "Show file counts and sizes for a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := workspace.NewManager(workspaceRoot)
		if err != nil {
			return err
		}
		if err := mgr.Load(args[0]); err != nil {
			return err
		}
		summary, err := mgr.Summary()
		if err != nil {
			return eris.Wrap(err, "workspace summary")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// -- workspace archive --

var workspaceArchiveOutput string

var workspaceArchiveCmd = &cobra.Command{
	Use:   "archive <path>",
	Short: "Export a workspace as a zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := workspace.NewManager(workspaceRoot)
		if err != nil {
			return err
		}
		if err := mgr.Load(args[0]); err != nil {
			return err
		}
		archive, err := mgr.ExportArchive(workspaceArchiveOutput)
		if err != nil {
			return eris.Wrap(err, "workspace archive")
		}
		fmt.Println(archive)
		return nil
	},
}

// -- workspace cleanup --

var workspaceCleanupCmd = &cobra.Command{
	Use:   "cleanup <path>",
	Short: "Delete a workspace and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := workspace.NewManager(workspaceRoot)
		if err != nil {
			return err
		}
		if err := mgr.Cleanup(args[0]); err != nil {
			return eris.Wrap(err, "workspace cleanup")
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

func init() {
	workspaceCmd.PersistentFlags().StringVar(&workspaceRoot, "root", "workspaces", "workspace base directory")
	workspaceArchiveCmd.Flags().StringVar(&workspaceArchiveOutput, "output", "", "archive path (default: next to the workspace)")

	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceSummaryCmd)
	workspaceCmd.AddCommand(workspaceArchiveCmd)
	workspaceCmd.AddCommand(workspaceCleanupCmd)
	rootCmd.AddCommand(workspaceCmd)
}

// formatWorkspaceList writes a tabular workspace listing to w.
func formatWorkspaceList(out io.Writer, items []workspace.Metadata) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCREATED\tSOURCE")
	_, _ = fmt.Fprintln(w, "----\t-------\t------")
	for _, meta := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
			meta.WorkspaceName,
			meta.CreatedAt.Format("2006-01-02 15:04"),
			meta.SourceFile,
		)
	}
	_ = w.Flush()
}
