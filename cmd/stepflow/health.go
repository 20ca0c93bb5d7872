package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"stepflow-monitor/internal/config"
)

var healthHost string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running server's /api/health endpoint",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthHost, "host", "localhost", "Server host to check")
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/api/health", healthHost, cfg.HTTPPort)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		pterm.Error.Printf("server unreachable at %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Status        string  `json:"status"`
			UptimeSeconds float64 `json:"uptime_seconds"`
			Version       string  `json:"version"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		pterm.Error.Printf("could not parse response from %s: %v\n", url, err)
		return err
	}

	if resp.StatusCode != http.StatusOK || !body.Success {
		pterm.Error.Printf("server at %s is unhealthy (HTTP %d)\n", url, resp.StatusCode)
		return fmt.Errorf("unhealthy server: HTTP %d", resp.StatusCode)
	}

	pterm.Success.Printf("%s is healthy (version %s, uptime %.0fs)\n", url, body.Data.Version, body.Data.UptimeSeconds)
	return nil
}
