package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/kanshi/internal/pipeline"
	"github.com/harunnryd/kanshi/internal/policy"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline pass",
	Long:  `Runs the full pipeline once for a policy (or every registered policy): monitor the source, authorize the candidate, compare against the baseline, notify recipients, and sync the draft.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ownerKey, _ := cmd.Flags().GetString("policy")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		parts, err := buildRuntime(cmd)
		if err != nil {
			return err
		}

		var policies []policy.Policy
		if ownerKey != "" {
			pol, err := parts.registry.Get(ownerKey)
			if err != nil {
				return err
			}
			policies = []policy.Policy{*pol}
		} else {
			policies = parts.registry.All()
		}

		if len(policies) == 0 {
			return fmt.Errorf("no policies registered in %s", cfg.Policies.Path)
		}

		ctx := context.Background()
		failed := 0
		for i := range policies {
			rec, err := parts.orchestrator.Run(ctx, &policies[i], dryRun)
			if err != nil {
				return fmt.Errorf("run for policy %q: %w", policies[i].OwnerKey, err)
			}

			fmt.Println(renderRunRecord(rec))
			if rec.Outcome == pipeline.OutcomeFailed {
				failed++
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d runs failed", failed, len(policies))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("policy", "p", "", "Owner key of a single policy to run")
	runCmd.Flags().Bool("dry-run", false, "Render and record everything without sending or syncing")
	runCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
}
