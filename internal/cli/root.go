// Package cli provides the command-line interface for devlog.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/codervisor/devlog/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// API client, created before every command runs.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "devlog",
	Short: "Coding-agent observability from the terminal",
	Long: `Devlog records what AI coding agents do across your machines: chat
sessions, turns, messages, and telemetry events, organized per workspace.

The CLI talks to a running devlog server. Point it at one with --server-url
or the DEVLOG_SERVER_URL environment variable (default http://localhost:8910).`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Version and help never need a server
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "devlog server URL (default from DEVLOG_SERVER_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(workspaceCmd)
}
