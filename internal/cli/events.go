package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codervisor/devlog/internal/client"
)

var (
	eventsProject string
	eventsSession string
	eventsType    string
	eventsLimit   int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query agent telemetry events",
	Long: `Query stored agent telemetry events in chronological order.

Examples:
  devlog events --project proj-42
  devlog events --session myrepo/abc123 --type tool_call
  devlog events --limit 20`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsProject, "project", "p", "", "filter by project id")
	eventsCmd.Flags().StringVarP(&eventsSession, "session", "s", "", "filter by session id")
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "filter by event type")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "max results")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	events, err := apiClient.GetEvents(ctx, &client.EventOptions{
		ProjectID: eventsProject,
		SessionID: eventsSession,
		EventType: eventsType,
		Limit:     eventsLimit,
	})
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	fmt.Printf("%-20s %-18s %-14s %-10s %s\n", "TIME", "TYPE", "AGENT", "SEVERITY", "SESSION")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, e := range events {
		session := ""
		if e.SessionID != nil {
			session = *e.SessionID
		}
		fmt.Printf("%-20s %-18s %-14s %-10s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			truncate(e.EventType, 18), truncate(e.AgentID, 14), e.Severity, session)
	}

	return nil
}
