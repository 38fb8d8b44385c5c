package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	publishReason      string
	publishForce       bool
	publishForceReason string
	assignmentsFile    string
	routesFile         string
	kpiFile            string
)

var publishCmd = &cobra.Command{
	Use:   "publish <plan-id>",
	Short: "Cut and activate a versioned snapshot of an approved plan",
	Long: `Cut and activate a versioned snapshot of an approved plan.

The new snapshot supersedes the previously active version and opens a freeze
window. Publishing during another plan's freeze requires --force together
with a --force-reason of at least 10 characters; the override is recorded in
the approval log.

Assignment, route, and KPI payloads are read from JSON files. Integrity
hashes are computed server side from the payloads when not supplied.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{
			"reason": publishReason,
		}
		if publishForce {
			body["force"] = true
			body["forceReason"] = publishForceReason
		}
		if assignmentsFile != "" {
			payload, err := readJSONFile(assignmentsFile)
			if err != nil {
				return err
			}
			body["assignments"] = payload
		}
		if routesFile != "" {
			payload, err := readJSONFile(routesFile)
			if err != nil {
				return err
			}
			body["routes"] = payload
		}
		if kpiFile != "" {
			payload, err := readJSONFile(kpiFile)
			if err != nil {
				return err
			}
			body["kpiSnapshot"] = payload
		}

		var result struct {
			Result struct {
				PlanID        string `json:"planId"`
				SnapshotID    string `json:"snapshotId"`
				VersionNumber int    `json:"versionNumber"`
				FreezeUntil   string `json:"freezeUntil"`
				Forced        bool   `json:"forced"`
				PublishCount  int    `json:"publishCount"`
			} `json:"result"`
		}
		if err := client.postSigned("/api/v1/plans/"+args[0]+"/publish", body, &result); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		fmt.Printf("Published plan %s as version %d (snapshot %s)\n",
			result.Result.PlanID, result.Result.VersionNumber, result.Result.SnapshotID)
		if result.Result.Forced {
			fmt.Println("Publish was forced through an active freeze window")
		}
		fmt.Printf("Frozen until %s\n", result.Result.FreezeUntil)
		return nil
	},
}

// readJSONFile loads a payload file and checks it parses as a JSON object.
func readJSONFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%s is not a JSON object: %w", path, err)
	}
	return payload, nil
}

func init() {
	publishCmd.Flags().StringVar(&publishReason, "reason", "", "Reason recorded on the snapshot and approval log")
	publishCmd.Flags().BoolVar(&publishForce, "force", false, "Publish through an active freeze window")
	publishCmd.Flags().StringVar(&publishForceReason, "force-reason", "", "Justification for a forced publish (min 10 characters)")
	publishCmd.Flags().StringVar(&assignmentsFile, "assignments-file", "", "JSON file with the assignment payload")
	publishCmd.Flags().StringVar(&routesFile, "routes-file", "", "JSON file with the route payload")
	publishCmd.Flags().StringVar(&kpiFile, "kpi-file", "", "JSON file with the KPI snapshot")

	rootCmd.AddCommand(publishCmd)
}
