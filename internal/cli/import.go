package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codervisor/devlog/internal/parser"
)

var importNoUI bool

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import exported chat sessions",
	Long: `Import a file of exported agent chat sessions into the server.

The file is either a JSON array of sessions or JSON Lines with one session
per line. Sessions already known to the server are skipped, so re-importing
the same export is safe.

Examples:
  devlog import sessions.json
  devlog import exports/cursor-2026-08.jsonl --no-ui`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&importNoUI, "no-ui", false, "submit and print the run id instead of showing progress")
}

func runImport(cmd *cobra.Command, args []string) error {
	sessions, err := parser.ParseSessionsFile(args[0])
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("Nothing to import")
		return nil
	}

	ctx := context.Background()
	progress, err := apiClient.ImportChat(ctx, sessions)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	if importNoUI {
		fmt.Printf("Run %s started: %d sessions\n", progress.RunID, progress.TotalSessions)
		fmt.Printf("Check status with 'devlog runs %s'\n", progress.RunID)
		return nil
	}

	return RunImportProgress(apiClient, progress)
}
