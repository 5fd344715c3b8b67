package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs <run-id>",
	Short: "Inspect an import run",
	Long: `Show the status of a background import run.

Examples:
  devlog runs a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	run, err := apiClient.GetImportProgress(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	fmt.Printf("Run: %s\n", run.RunID)
	fmt.Printf("  Status: %s\n", run.Status)
	fmt.Printf("  Progress: %d/%d (%d%%)\n", run.ProcessedSessions, run.TotalSessions, run.Percentage)
	if run.SkippedSessions > 0 {
		fmt.Printf("  Skipped: %d\n", run.SkippedSessions)
	}
	if run.FailedSessions > 0 {
		fmt.Printf("  Failed: %d\n", run.FailedSessions)
	}
	fmt.Printf("  Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", run.FinishedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}

	if len(run.Errors) > 0 {
		fmt.Printf("\n  Errors (%d):\n", len(run.Errors))
		for _, e := range run.Errors {
			fmt.Printf("    - #%d %s: %s\n", e.Index, e.ID, e.Reason)
		}
	}

	return nil
}
