package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/kanshi/internal/daemon"
	"github.com/harunnryd/kanshi/internal/daemon/components"
	"github.com/harunnryd/kanshi/internal/pipeline"
	"github.com/harunnryd/kanshi/internal/policy"

	"github.com/spf13/cobra"
)

// orchestratorSubmitter adapts the pipeline orchestrator to the
// scheduler's submit hook. Scheduled runs are never dry runs.
type orchestratorSubmitter struct {
	orchestrator *pipeline.Orchestrator
}

func (s *orchestratorSubmitter) Submit(ctx context.Context, pol *policy.Policy) error {
	rec, err := s.orchestrator.Run(ctx, pol, false)
	if err != nil {
		return err
	}
	if rec.Outcome == pipeline.OutcomeFailed {
		return fmt.Errorf("run %s ended failed: %s", rec.RunID, rec.Err)
	}
	return nil
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start Kanshi in background daemon mode",
	Long:  `Starts Kanshi as a long-running service: scheduled pipeline runs per policy, periodic retention sweeps, and component health monitoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		parts, err := buildRuntime(cmd)
		if err != nil {
			return err
		}

		daemonMgr, err := daemon.NewDaemon(workspaceID, cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		tr, err := buildTransport()
		if err != nil {
			return err
		}
		retentionEngine, err := buildRetentionEngine(parts.snapshots)
		if err != nil {
			return err
		}

		submitter := &orchestratorSubmitter{orchestrator: parts.orchestrator}

		daemonMgr.AddComponent(components.NewTransportComponent(tr))
		daemonMgr.AddComponent(components.NewSchedulerComponent(cfg, parts.registry, submitter, workspaceID))
		daemonMgr.AddComponent(components.NewRetentionComponent(retentionEngine, &cfg.Retention))

		slog.Info("Kanshi daemon starting up...", "workspace", workspaceID, "policies", parts.registry.Len())
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Kanshi daemon stopped gracefully", "workspace", workspaceID)
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Kanshi daemon stopped gracefully", "workspace", workspaceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	daemonCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
