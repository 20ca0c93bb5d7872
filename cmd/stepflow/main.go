// Command stepflow is the StepFlow Monitor server binary (spec §4.H):
// it loads configuration, wires the store/engine/hub/httpapi/wsapi
// stack together, recovers any orphaned executions left by a previous
// process, and serves until told to shut down.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "StepFlow Monitor - shell execution tracking and live monitoring",
	Long: `StepFlow Monitor runs shell and script commands as child processes,
parses their stdout for step and artifact markers, persists a full
execution history, and streams live state to subscribed WebSocket
clients.

Examples:
  stepflow serve              # Start the HTTP + WebSocket server
  stepflow serve --http 9090  # Override the HTTP port
  stepflow health              # Check a running server's health endpoint`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
