package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals <plan-id>",
	Short: "Show a plan's approval log",
	Long: `Show a plan's approval log.

Every lifecycle transition appends one immutable entry; the log is ordered
newest first and includes forced publishes recorded during a freeze window.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Items []struct {
				ID                 string `json:"id"`
				Action             string `json:"action"`
				FromState          string `json:"fromState"`
				ToState            string `json:"toState"`
				PerformedBy        string `json:"performedBy"`
				Reason             string `json:"reason"`
				ForcedDuringFreeze bool   `json:"forcedDuringFreeze"`
				CreatedAt          string `json:"createdAt"`
			} `json:"items"`
			TotalSize int `json:"totalSize"`
		}
		if err := client.getJSON("/api/v1/plans/"+args[0]+"/approvals", &result); err != nil {
			return fmt.Errorf("failed to list approvals: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"Action", "From", "To", "By", "Forced", "Created"}
		rows := make([][]string, 0, len(result.Items))
		for _, a := range result.Items {
			forced := ""
			if a.ForcedDuringFreeze {
				forced = "yes"
			}
			rows = append(rows, []string{
				a.Action,
				a.FromState,
				a.ToState,
				a.PerformedBy,
				forced,
				a.CreatedAt,
			})
		}
		printTable(headers, rows)
		fmt.Printf("Total: %d\n", result.TotalSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(approvalsCmd)
}
