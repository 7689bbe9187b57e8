package main

import (
	"fmt"

	"github.com/harunnryd/kanshi/internal/pipeline"
	"github.com/harunnryd/kanshi/internal/store"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the notification delivery log",
	Long:  `Displays every recorded notification delivery for the workspace, one row per (change, recipient) pair, with delivery status and attempt counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		export, _ := cmd.Flags().GetBool("export")

		history, err := openHistory(resolveWorkspaceID(cmd))
		if err != nil {
			return err
		}

		if export {
			raw, err := history.ExportLog()
			if err != nil {
				return fmt.Errorf("failed to export notification log: %w", err)
			}
			fmt.Println(string(raw))
			return nil
		}

		fmt.Println(renderNotificationLog(history.All()))
		fmt.Println(renderStats(history.GetStats()))
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recorded pipeline runs",
	Long:  `Displays the audit trail of pipeline runs: one record per run with its outcome, stage timings, and snapshot references.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerKey, _ := cmd.Flags().GetString("policy")

		runsDir, err := store.GetRunRecordsDir(resolveWorkspaceID(cmd), cfg.Daemon.WorkspacePath)
		if err != nil {
			return fmt.Errorf("failed to resolve run records directory: %w", err)
		}
		runs, err := pipeline.NewRunRecordStore(runsDir)
		if err != nil {
			return fmt.Errorf("failed to open run record store: %w", err)
		}

		records, err := listRuns(runs, ownerKey)
		if err != nil {
			return err
		}

		fmt.Println(renderRunList(records))
		fmt.Println(renderRunStats(pipeline.ComputeRunStats(records)))
		return nil
	},
}

func listRuns(runs *pipeline.RunRecordStore, ownerKey string) ([]pipeline.RunRecord, error) {
	if ownerKey != "" {
		return runs.List(ownerKey)
	}
	return runs.ListAll()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("export", false, "Dump the raw notification log as JSON")
	historyCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")

	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringP("policy", "p", "", "Only show runs for this owner key")
	runsCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
}
