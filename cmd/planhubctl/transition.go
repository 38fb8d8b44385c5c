package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var transitionReason string

var transitionCmd = &cobra.Command{
	Use:   "transition <plan-id> <to-state>",
	Short: "Move a plan to a new lifecycle state",
	Long: `Move a plan to a new lifecycle state.

States: draft, solving, solved, approved, rejected, failed, published.
A plan can be approved once and promoted to published once; repeating either
is rejected even after intervening reverts. Publishing through this command
records the transition only; use "planhubctl publish" to cut a snapshot.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{
			"to":     args[1],
			"reason": transitionReason,
		}

		var result struct {
			Result struct {
				PlanID      string `json:"planId"`
				From        string `json:"from"`
				To          string `json:"to"`
				Action      string `json:"action"`
				Idempotent  bool   `json:"idempotent"`
				FreezeUntil string `json:"freezeUntil"`
			} `json:"result"`
		}
		if err := client.postSigned("/api/v1/plans/"+args[0]+"/transition", body, &result); err != nil {
			return fmt.Errorf("transition failed: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		if result.Result.Idempotent {
			fmt.Printf("Plan %s already in %s, nothing to do\n", args[0], result.Result.To)
			return nil
		}
		fmt.Printf("Plan %s moved from %s to %s (%s)\n",
			args[0], result.Result.From, result.Result.To, result.Result.Action)
		if result.Result.FreezeUntil != "" {
			fmt.Printf("Frozen until %s\n", result.Result.FreezeUntil)
		}
		return nil
	},
}

func init() {
	transitionCmd.Flags().StringVar(&transitionReason, "reason", "", "Reason recorded in the approval log")

	rootCmd.AddCommand(transitionCmd)
}
