package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and readiness",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	// Fetch both health and readiness.
	healthResp, err := client.getRaw("/healthz")
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	readyResp, err := client.getRaw("/readyz")
	if err != nil {
		// Readiness failure is not fatal; the server might still be starting.
		readyResp = map[string]any{"status": "unknown", "error": err.Error()}
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		combined := map[string]any{
			"health":    healthResp,
			"readiness": readyResp,
		}
		return printOutput(combined)
	}

	// Table output
	status, _ := healthResp["status"].(string)
	uptime, _ := healthResp["uptime"].(string)
	ready, _ := readyResp["status"].(string)

	headers := []string{"Check", "Status"}
	rows := [][]string{
		{"Liveness", status},
		{"Uptime", uptime},
		{"Readiness", ready},
	}
	if components, ok := readyResp["components"].(map[string]any); ok {
		if dbc, ok := components["database"].(map[string]any); ok {
			if s, ok := dbc["status"].(string); ok {
				rows = append(rows, []string{"Database", s})
			}
		}
		if lec, ok := components["leader_election"].(map[string]any); ok {
			if s, ok := lec["status"].(string); ok {
				rows = append(rows, []string{"Leader Election", s})
			}
		}
	}

	printTable(headers, rows)
	return nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
