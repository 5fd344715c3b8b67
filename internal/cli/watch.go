package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codervisor/devlog/internal/client"
)

var watchType string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live activity from the server",
	Long: `Subscribe to the server's live stream and print every broadcast as it
happens: imported sessions and appended telemetry events.

Examples:
  devlog watch
  devlog watch --type event.appended`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchType, "type", "t", "", "only print envelopes of this type")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Println("Watching for activity (Ctrl+C to stop)...")

	err := apiClient.Watch(ctx, func(env client.Envelope) error {
		if watchType != "" && env.Type != watchType {
			return nil
		}
		fmt.Printf("%s  %-18s %s\n", env.Timestamp.Format("15:04:05"), env.Type, string(env.Data))
		return nil
	})
	if err == context.Canceled {
		return nil
	}
	return err
}
