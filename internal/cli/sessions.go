package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codervisor/devlog/internal/client"
)

var (
	sessionsActive    bool
	sessionsWorkspace string
	sessionsAgent     string
	sessionsStatus    string
	sessionsLimit     int

	endOutcome string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and manage agent sessions",
	Long: `List recorded agent sessions, newest first.

Examples:
  devlog sessions
  devlog sessions --active
  devlog sessions --workspace myrepo --agent cursor
  devlog sessions show myrepo/abc123
  devlog sessions end myrepo/abc123 --outcome success`,
	RunE: runSessions,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "Mark an active session as completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsEnd,
}

func init() {
	sessionsCmd.Flags().BoolVarP(&sessionsActive, "active", "a", false, "only sessions that have not ended")
	sessionsCmd.Flags().StringVarP(&sessionsWorkspace, "workspace", "w", "", "filter by workspace reference")
	sessionsCmd.Flags().StringVar(&sessionsAgent, "agent", "", "filter by agent type")
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by status (active, completed)")
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 50, "max results")

	sessionsEndCmd.Flags().StringVar(&endOutcome, "outcome", "", "outcome label to record (e.g. success, abandoned)")

	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsEndCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	opts := &client.SessionOptions{
		WorkspaceRef: sessionsWorkspace,
		AgentType:    sessionsAgent,
		Status:       sessionsStatus,
		Limit:        sessionsLimit,
	}

	var (
		sessions []client.Session
		err      error
	)
	if sessionsActive {
		sessions, err = apiClient.GetActiveSessions(ctx, opts)
	} else {
		sessions, err = apiClient.ListSessions(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	fmt.Printf("%-32s %-12s %-10s %8s %8s %s\n", "ID", "AGENT", "STATUS", "MSGS", "TOKENS", "STARTED")
	fmt.Println("--------------------------------------------------------------------------------------")
	for _, s := range sessions {
		fmt.Printf("%-32s %-12s %-10s %8d %8d %s\n",
			truncate(s.ID, 32), s.AgentType, s.Status, s.MessageCount, s.TotalTokens,
			s.StartedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	session, err := apiClient.GetSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	printSession(session)
	return nil
}

func runSessionsEnd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var outcome *string
	if endOutcome != "" {
		outcome = &endOutcome
	}

	session, err := apiClient.EndSession(ctx, args[0], outcome)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	fmt.Printf("Session %s ended\n", session.ID)
	printSession(session)
	return nil
}

func printSession(s *client.Session) {
	fmt.Printf("Session: %s\n", s.ID)
	fmt.Printf("  Workspace: %s\n", s.Workspace)
	fmt.Printf("  External ID: %s\n", s.ExternalSessionID)
	fmt.Printf("  Agent: %s\n", s.AgentType)
	if s.ModelID != nil {
		fmt.Printf("  Model: %s\n", *s.ModelID)
	}
	fmt.Printf("  Status: %s\n", s.Status)
	if s.Outcome != nil {
		fmt.Printf("  Outcome: %s\n", *s.Outcome)
	}
	fmt.Printf("  Messages: %d\n", s.MessageCount)
	fmt.Printf("  Tokens: %d\n", s.TotalTokens)
	fmt.Printf("  Started: %s\n", s.StartedAt.Format(time.RFC3339))
	if s.EndedAt != nil {
		fmt.Printf("  Ended: %s\n", s.EndedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", s.EndedAt.Sub(s.StartedAt).Round(time.Second))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
