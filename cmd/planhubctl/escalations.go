package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	escScopeType  string
	escScopeID    string
	raiseSeverity int
	raiseMessage  string
	raiseTTL      int
)

type escalationView struct {
	ID         string `json:"id"`
	ScopeType  string `json:"scopeType"`
	ScopeID    string `json:"scopeId"`
	ReasonCode string `json:"reasonCode"`
	Severity   int    `json:"severity"`
	Message    string `json:"message"`
	Active     bool   `json:"active"`
	ExpiresAt  string `json:"expiresAt"`
	UpdatedAt  string `json:"updatedAt"`
}

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "Raise, resolve, and list escalation counters",
}

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalations raised directly on a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		params := url.Values{}
		params.Set("scopeType", escScopeType)
		if escScopeID != "" {
			params.Set("scopeId", escScopeID)
		}

		var result struct {
			Items []escalationView `json:"items"`
		}
		if err := client.getJSON("/api/v1/escalations?"+params.Encode(), &result); err != nil {
			return fmt.Errorf("failed to list escalations: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Reason", "Severity", "Message", "Expires", "Updated"}
		rows := make([][]string, 0, len(result.Items))
		for _, e := range result.Items {
			rows = append(rows, []string{
				truncate(e.ID, 12),
				e.ReasonCode,
				"S" + strconv.Itoa(e.Severity),
				truncate(e.Message, 40),
				e.ExpiresAt,
				e.UpdatedAt,
			})
		}
		printTable(headers, rows)
		fmt.Printf("Total: %d\n", len(result.Items))
		return nil
	},
}

var escalationsRaiseCmd = &cobra.Command{
	Use:   "raise <reason-code>",
	Short: "Raise an escalation on a scope",
	Long: `Raise an escalation on a scope.

A scope holds one escalation per reason code; raising the same code again
refreshes the message, severity, and expiry in place. Severity defaults to
the reason code registry entry when not given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{
			"scopeType":  escScopeType,
			"reasonCode": args[0],
		}
		if escScopeID != "" {
			body["scopeId"] = escScopeID
		}
		if cmd.Flags().Changed("severity") {
			body["severity"] = raiseSeverity
		}
		if raiseMessage != "" {
			body["message"] = raiseMessage
		}
		if raiseTTL > 0 {
			body["ttlSeconds"] = raiseTTL
		}

		var result struct {
			Escalation escalationView `json:"escalation"`
		}
		if err := client.putSigned("/api/v1/escalations", body, &result); err != nil {
			return fmt.Errorf("failed to raise escalation: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}
		fmt.Printf("Raised %s (S%d) on %s as %s\n",
			result.Escalation.ReasonCode, result.Escalation.Severity,
			escScopeType, result.Escalation.ID)
		return nil
	},
}

var escalationsResolveCmd = &cobra.Command{
	Use:   "resolve <escalation-id>",
	Short: "Resolve an active escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		if err := client.deleteSigned("/api/v1/escalations/"+args[0], nil); err != nil {
			return fmt.Errorf("failed to resolve escalation: %w", err)
		}
		fmt.Printf("Resolved escalation %s\n", args[0])
		return nil
	},
}

var escalationsReasonCodesCmd = &cobra.Command{
	Use:   "reason-codes",
	Short: "List registered reason codes and their default severities",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Items []struct {
				Code        string `json:"code"`
				Severity    int    `json:"severity"`
				Description string `json:"description"`
			} `json:"items"`
		}
		if err := client.getJSON("/api/v1/escalations/reason-codes", &result); err != nil {
			return fmt.Errorf("failed to list reason codes: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"Code", "Severity", "Description"}
		rows := make([][]string, 0, len(result.Items))
		for _, c := range result.Items {
			rows = append(rows, []string{
				c.Code,
				"S" + strconv.Itoa(c.Severity),
				truncate(c.Description, 60),
			})
		}
		printTable(headers, rows)
		return nil
	},
}

func init() {
	escalationsCmd.PersistentFlags().StringVar(&escScopeType, "scope-type", "platform", "Scope level: platform, organization, tenant, or site")
	escalationsCmd.PersistentFlags().StringVar(&escScopeID, "scope-id", "", "Scope identifier (empty for platform)")
	escalationsRaiseCmd.Flags().IntVar(&raiseSeverity, "severity", 0, "Severity 0 (worst) to 4 (default: from the reason code registry)")
	escalationsRaiseCmd.Flags().StringVar(&raiseMessage, "message", "", "Human-readable context recorded on the escalation")
	escalationsRaiseCmd.Flags().IntVar(&raiseTTL, "ttl", 0, "Auto-expiry in seconds (0 keeps it until resolved)")

	escalationsCmd.AddCommand(escalationsListCmd)
	escalationsCmd.AddCommand(escalationsRaiseCmd)
	escalationsCmd.AddCommand(escalationsResolveCmd)
	escalationsCmd.AddCommand(escalationsReasonCodesCmd)

	rootCmd.AddCommand(escalationsCmd)
}
