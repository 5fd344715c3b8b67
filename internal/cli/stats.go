package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/codervisor/devlog/internal/client"
)

var (
	statsWorkspace string
	statsAgent     string
	statsServer    bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session statistics",
	Long: `Aggregate statistics over recorded sessions.

Examples:
  devlog stats
  devlog stats --workspace myrepo
  devlog stats --server    # server-side operation timings`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsWorkspace, "workspace", "w", "", "limit to one workspace reference")
	statsCmd.Flags().StringVar(&statsAgent, "agent", "", "limit to one agent type")
	statsCmd.Flags().BoolVar(&statsServer, "server", false, "show server operation timings instead")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if statsServer {
		return runServerStats(ctx)
	}

	stats, err := apiClient.GetSessionStats(ctx, &client.SessionOptions{
		WorkspaceRef: statsWorkspace,
		AgentType:    statsAgent,
	})
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println("Session statistics:")
	fmt.Printf("  Sessions: %d (%d active)\n", stats.Count, stats.ActiveCount)
	fmt.Printf("  Messages: %d\n", stats.TotalMessages)
	fmt.Printf("  Tokens: %d\n", stats.TotalTokens)
	if stats.AverageDuration > 0 {
		avg := time.Duration(stats.AverageDuration * float64(time.Second))
		fmt.Printf("  Avg duration: %s\n", avg.Round(time.Second))
	}

	return nil
}

func runServerStats(ctx context.Context) error {
	stats, err := apiClient.ServerStats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}

	if len(stats) == 0 {
		fmt.Println("No server stats recorded yet")
		return nil
	}

	ops := make([]string, 0, len(stats))
	for op := range stats {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	fmt.Println("Server operation timings:")
	for _, op := range ops {
		fmt.Printf("  %s: %v\n", op, stats[op])
	}

	return nil
}
