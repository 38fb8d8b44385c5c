package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage dispatch plans",
}

// planView mirrors the plan fields the table renderer cares about.
type planView struct {
	ID                 string   `json:"id"`
	TenantID           string   `json:"tenantId"`
	SiteID             string   `json:"siteId"`
	Name               string   `json:"name"`
	State              string   `json:"state"`
	StateChangedAt     string   `json:"stateChangedAt"`
	StateChangedBy     string   `json:"stateChangedBy"`
	CurrentSnapshotID  string   `json:"currentSnapshotId"`
	PublishCount       int      `json:"publishCount"`
	FreezeUntil        string   `json:"freezeUntil"`
	PublishedAt        string   `json:"publishedAt"`
	PublishedBy        string   `json:"publishedBy"`
	AllowedTransitions []string `json:"allowedTransitions"`
	UpdatedAt          string   `json:"updatedAt"`
}

var (
	plansListState string
	plansListSite  string
)

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans in the current tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		params := url.Values{}
		if plansListState != "" {
			params.Set("state", plansListState)
		}
		if plansListSite != "" {
			params.Set("siteId", plansListSite)
		}
		path := "/api/v1/plans"
		if len(params) > 0 {
			path += "?" + params.Encode()
		}

		var result struct {
			Items     []planView `json:"items"`
			TotalSize int        `json:"totalSize"`
		}
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list plans: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Name", "Site", "State", "Publishes", "Freeze Until", "Updated"}
		rows := make([][]string, 0, len(result.Items))
		for _, p := range result.Items {
			rows = append(rows, []string{
				truncate(p.ID, 12),
				p.Name,
				p.SiteID,
				p.State,
				strconv.Itoa(p.PublishCount),
				p.FreezeUntil,
				p.UpdatedAt,
			})
		}
		printTable(headers, rows)
		fmt.Printf("Total: %d\n", result.TotalSize)
		return nil
	},
}

var plansGetCmd = &cobra.Command{
	Use:   "get <plan-id>",
	Short: "Get plan details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Plan planView `json:"plan"`
		}
		if err := client.getJSON("/api/v1/plans/"+args[0], &result); err != nil {
			return fmt.Errorf("failed to get plan: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		p := result.Plan
		allowed := ""
		for i, s := range p.AllowedTransitions {
			if i > 0 {
				allowed += ", "
			}
			allowed += s
		}
		printDetails([][2]string{
			{"ID", p.ID},
			{"Name", p.Name},
			{"Tenant", p.TenantID},
			{"Site", p.SiteID},
			{"State", p.State},
			{"State Changed", p.StateChangedAt},
			{"Changed By", p.StateChangedBy},
			{"Allowed Next", allowed},
			{"Publish Count", strconv.Itoa(p.PublishCount)},
			{"Current Snapshot", p.CurrentSnapshotID},
			{"Freeze Until", p.FreezeUntil},
			{"Published At", p.PublishedAt},
			{"Published By", p.PublishedBy},
		})
		return nil
	},
}

var plansCreateSite string

var plansCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a plan in draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{"name": args[0]}
		if plansCreateSite != "" {
			body["siteId"] = plansCreateSite
		}

		var result struct {
			Plan planView `json:"plan"`
		}
		if err := client.postSigned("/api/v1/plans", body, &result); err != nil {
			return fmt.Errorf("failed to create plan: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}
		fmt.Printf("Plan %s created in %s\n", result.Plan.ID, result.Plan.State)
		return nil
	},
}

func init() {
	plansListCmd.Flags().StringVar(&plansListState, "state", "", "Filter by lifecycle state")
	plansListCmd.Flags().StringVar(&plansListSite, "site-filter", "", "Filter by site")
	plansCreateCmd.Flags().StringVar(&plansCreateSite, "plan-site", "", "Site the plan belongs to (default: --site)")

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansGetCmd)
	plansCmd.AddCommand(plansCreateCmd)

	rootCmd.AddCommand(plansCmd)
}
