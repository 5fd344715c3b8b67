package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace <ref>",
	Short: "Look up a workspace reference",
	Long: `Show the application, machine, and workspace behind a workspace
reference. Unknown references are an error; workspaces are only created
through imports and the resolve API.

Examples:
  devlog workspace myrepo`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkspace,
}

func runWorkspace(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	wsCtx, err := apiClient.GetWorkspace(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get workspace: %w", err)
	}

	ws := wsCtx.Workspace
	fmt.Printf("Workspace: %s\n", ws.WorkspaceRef)
	fmt.Printf("  Path: %s\n", ws.Path)
	if ws.RepoURL != nil {
		fmt.Printf("  Repo: %s\n", *ws.RepoURL)
	}
	if wsCtx.ProjectID != nil {
		fmt.Printf("  Project: %s\n", *wsCtx.ProjectID)
	}
	if !ws.LastSeenAt.IsZero() {
		fmt.Printf("  Last seen: %s\n", ws.LastSeenAt.Format(time.RFC3339))
	}

	fmt.Printf("\nApplication: %s\n", wsCtx.Application.Name)
	fmt.Printf("  Platform: %s\n", wsCtx.Application.Platform)
	fmt.Printf("  Path: %s\n", wsCtx.Application.Path)

	fmt.Printf("\nMachine: %s\n", wsCtx.Machine.Hostname)
	if wsCtx.Machine.Username != nil {
		fmt.Printf("  User: %s\n", *wsCtx.Machine.Username)
	}
	if wsCtx.Machine.OSType != nil {
		fmt.Printf("  OS: %s\n", *wsCtx.Machine.OSType)
	}

	return nil
}
