package components

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/harunnryd/kanshi/internal/config"
	"github.com/harunnryd/kanshi/internal/daemon"
	"github.com/harunnryd/kanshi/internal/policy"
	"github.com/harunnryd/kanshi/internal/scheduler"
	"github.com/harunnryd/kanshi/internal/store"
)

// SchedulerComponent owns the cron scheduler that fires pipeline runs.
type SchedulerComponent struct {
	sched       *scheduler.Scheduler
	cfg         *config.Config
	registry    *policy.Registry
	submitter   scheduler.RunSubmitter
	workspaceID string
}

func NewSchedulerComponent(cfg *config.Config, registry *policy.Registry, submitter scheduler.RunSubmitter, workspaceID string) *SchedulerComponent {
	return &SchedulerComponent{
		cfg:         cfg,
		registry:    registry,
		submitter:   submitter,
		workspaceID: workspaceID,
	}
}

func (s *SchedulerComponent) Name() string {
	return "Scheduler"
}

func (s *SchedulerComponent) Dependencies() []string {
	return []string{}
}

func (s *SchedulerComponent) Init(ctx context.Context) error {
	if s.submitter == nil {
		return fmt.Errorf("run submitter not provided")
	}
	if s.registry == nil {
		return fmt.Errorf("policy registry not provided")
	}

	schedulerDir, err := store.GetSchedulerDir(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("failed to resolve scheduler directory: %w", err)
	}
	schedulerStore, err := scheduler.NewStore(filepath.Join(schedulerDir, "tasks.json"))
	if err != nil {
		return fmt.Errorf("failed to create scheduler store: %w", err)
	}
	sched, err := scheduler.NewScheduler(schedulerStore, s.registry, s.submitter, s.cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.sched = sched

	if err := s.sched.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	slog.Info("Scheduler initialized", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Start(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not initialized")
	}

	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	slog.Info("Scheduler started", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Stop(ctx context.Context) error {
	if s.sched == nil {
		slog.Info("Scheduler not initialized, skipping stop", "component", s.Name())
		return nil
	}

	if err := s.sched.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	slog.Info("Scheduler stopped", "component", s.Name())
	return nil
}

func (s *SchedulerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if s.sched == nil {
		return &daemon.ComponentHealth{
			Name:    s.Name(),
			Healthy: false,
			Error:   fmt.Errorf("not initialized"),
		}, nil
	}

	if err := s.sched.Health(ctx); err != nil {
		return &daemon.ComponentHealth{
			Name:    s.Name(),
			Healthy: false,
			Error:   err,
		}, nil
	}

	return &daemon.ComponentHealth{
		Name:    s.Name(),
		Healthy: true,
	}, nil
}

func (s *SchedulerComponent) GetScheduler() *scheduler.Scheduler {
	return s.sched
}
