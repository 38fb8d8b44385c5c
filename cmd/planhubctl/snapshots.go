package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type snapshotView struct {
	ID                 string `json:"id"`
	PlanID             string `json:"planId"`
	VersionNumber      int    `json:"versionNumber"`
	Status             string `json:"status"`
	InputHash          string `json:"inputHash"`
	OutputHash         string `json:"outputHash"`
	EvidenceHash       string `json:"evidenceHash"`
	FreezeUntil        string `json:"freezeUntil"`
	PublishedBy        string `json:"publishedBy"`
	PublishReason      string `json:"publishReason"`
	ForcedDuringFreeze bool   `json:"forcedDuringFreeze"`
	ForceReason        string `json:"forceReason"`
	SupersededAt       string `json:"supersededAt"`
	ArchivedAt         string `json:"archivedAt"`
	CreatedAt          string `json:"createdAt"`
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect a plan's published snapshot versions",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list <plan-id>",
	Short: "List a plan's snapshots, newest version first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Items     []snapshotView `json:"items"`
			TotalSize int            `json:"totalSize"`
		}
		if err := client.getJSON("/api/v1/plans/"+args[0]+"/snapshots", &result); err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"Version", "Status", "Published By", "Forced", "Freeze Until", "Created"}
		rows := make([][]string, 0, len(result.Items))
		for _, s := range result.Items {
			forced := ""
			if s.ForcedDuringFreeze {
				forced = "yes"
			}
			rows = append(rows, []string{
				strconv.Itoa(s.VersionNumber),
				s.Status,
				s.PublishedBy,
				forced,
				s.FreezeUntil,
				s.CreatedAt,
			})
		}
		printTable(headers, rows)
		fmt.Printf("Total: %d\n", result.TotalSize)
		return nil
	},
}

var snapshotsGetCmd = &cobra.Command{
	Use:   "get <plan-id> <version>",
	Short: "Show one snapshot version with its integrity hashes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Snapshot snapshotView `json:"snapshot"`
		}
		if err := client.getJSON("/api/v1/plans/"+args[0]+"/snapshots/"+args[1], &result); err != nil {
			return fmt.Errorf("failed to get snapshot: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		s := result.Snapshot
		forced := ""
		if s.ForcedDuringFreeze {
			forced = "yes"
		}
		printDetails([][2]string{
			{"ID", s.ID},
			{"Plan", s.PlanID},
			{"Version", strconv.Itoa(s.VersionNumber)},
			{"Status", s.Status},
			{"Published By", s.PublishedBy},
			{"Reason", s.PublishReason},
			{"Forced", forced},
			{"Force Reason", s.ForceReason},
			{"Freeze Until", s.FreezeUntil},
			{"Input Hash", s.InputHash},
			{"Output Hash", s.OutputHash},
			{"Evidence Hash", s.EvidenceHash},
			{"Superseded At", s.SupersededAt},
			{"Archived At", s.ArchivedAt},
			{"Created", s.CreatedAt},
		})
		return nil
	},
}

func init() {
	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsGetCmd)
	rootCmd.AddCommand(snapshotsCmd)
}
