package main

import (
	"fmt"

	"github.com/harunnryd/kanshi/internal/policy"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage watched policies",
	Long:  `Inspect and validate the policy registry that drives monitoring.`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := policy.LoadRegistry(cfg.Policies.Path)
		if err != nil {
			return fmt.Errorf("failed to load policies from %s: %w", cfg.Policies.Path, err)
		}

		fmt.Println(renderPolicyList(registry.All()))
		return nil
	},
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the policy registry file",
	Long:  `Loads the policies file and reports structural problems: missing fields, bad recipient addresses, invalid cron schedules, duplicate owner keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := policy.LoadRegistry(cfg.Policies.Path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		fmt.Printf("✓ %d policies valid (%s)\n", registry.Len(), cfg.Policies.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyValidateCmd)
}
