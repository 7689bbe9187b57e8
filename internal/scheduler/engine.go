package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kanshi/internal/config"
	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/policy"

	"github.com/oklog/ulid/v2"
)

// RunSubmitter starts one pipeline pass for a policy. The orchestrator
// implements it through an adapter in the daemon wiring.
type RunSubmitter interface {
	Submit(ctx context.Context, pol *policy.Policy) error
}

// Scheduler fires pipeline runs on each policy's cron schedule. Firing
// is lease-protected so a restarted daemon never double-fires a task.
type Scheduler struct {
	store    *Store
	registry *policy.Registry
	submit   RunSubmitter

	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	ticker        *time.Ticker
	inFlightTasks uint
	wg            sync.WaitGroup

	tickInterval         time.Duration
	shutdownTimeout      time.Duration
	leaseDuration        time.Duration
	maxCatchupRuns       int
	inFlightPollInterval time.Duration
}

func NewScheduler(store *Store, registry *policy.Registry, submit RunSubmitter, cfg config.SchedulerConfig) (*Scheduler, error) {
	tickInterval, err := config.DurationOrDefault(cfg.TickInterval, config.DefaultSchedulerTickInterval)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler tick interval: %w", err)
	}

	shutdownTimeout, err := config.DurationOrDefault(cfg.ShutdownTimeout, config.DefaultSchedulerShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler shutdown timeout: %w", err)
	}

	leaseDuration, err := config.DurationOrDefault(cfg.LeaseDuration, config.DefaultSchedulerLeaseDuration)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler lease duration: %w", err)
	}

	inFlightPollInterval, err := config.DurationOrDefault(cfg.InFlightPollInterval, config.DefaultSchedulerInFlightPollInterval)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler in-flight poll interval: %w", err)
	}

	maxCatchupRuns := cfg.MaxCatchupRuns
	if maxCatchupRuns <= 0 {
		maxCatchupRuns = config.DefaultSchedulerMaxCatchupRuns
	}

	return &Scheduler{
		store:                store,
		registry:             registry,
		submit:               submit,
		tickInterval:         tickInterval,
		shutdownTimeout:      shutdownTimeout,
		leaseDuration:        leaseDuration,
		maxCatchupRuns:       maxCatchupRuns,
		inFlightPollInterval: inFlightPollInterval,
	}, nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.store.SyncPolicies(s.registry); err != nil {
		return fmt.Errorf("sync tasks with policy registry: %w", err)
	}

	slog.Info("Scheduler initialized", "tasks", len(mustTasks(s.store)))
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.recoverExpiredLeases()
	s.processCatchUp()

	s.ticker = time.NewTicker(s.tickInterval)

	go s.run()

	slog.Info("Scheduler started", "tick_interval", s.tickInterval)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.waitForInFlightTasks()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, force stopping")
		return kerrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	if s.ctx == nil {
		return kerrors.Internal("scheduler not initialized")
	}

	if !s.IsRunning() {
		return kerrors.Internal("scheduler not running")
	}

	if _, err := s.store.LoadTasks(); err != nil {
		return fmt.Errorf("load tasks: %w", kerrors.ErrTransient)
	}

	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.onTick()
		case <-s.ctx.Done():
			slog.Info("Scheduler run loop stopped")
			return
		}
	}
}

func (s *Scheduler) onTick() {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		slog.Error("Failed to load scheduled tasks", "error", err)
		return
	}

	for _, task := range tasks {
		if task.Schedule == "" {
			continue
		}

		shouldFire, fireTime, err := s.store.ShouldFire(task.PolicyID)
		if err != nil {
			slog.Error("Failed to check if task is due", "policy", task.PolicyID, "error", err)
			continue
		}

		if shouldFire {
			s.fireTask(task, fireTime)
		}
	}
}

// fireTask claims the lease and hands the policy to the submitter in
// its own goroutine. A failed run releases the lease like any other;
// the schedule keeps ticking.
func (s *Scheduler) fireTask(task Task, fireTime time.Time) {
	pol, err := s.registry.Get(task.PolicyID)
	if err != nil {
		slog.Error("Scheduled task has no matching policy", "policy", task.PolicyID, "error", err)
		return
	}

	runID := ulid.Make().String()
	leaseExpiresAt := time.Now().Add(s.leaseDuration)

	if err := s.store.AcquireLease(task.PolicyID, runID, leaseExpiresAt); err != nil {
		slog.Warn("Failed to acquire lease, skipping fire", "policy", task.PolicyID, "error", err)
		return
	}

	s.mu.Lock()
	s.inFlightTasks++
	s.mu.Unlock()
	s.wg.Add(1)

	go func() {
		defer func() {
			s.mu.Lock()
			s.inFlightTasks--
			s.mu.Unlock()
			s.wg.Done()
		}()

		slog.Info("Firing scheduled run",
			"policy", task.PolicyID,
			"fire_time", fireTime.Format(time.RFC3339),
		)

		if err := s.submit.Submit(s.ctx, pol); err != nil {
			slog.Error("Scheduled run failed", "policy", task.PolicyID, "error", err)
		}

		if err := s.store.ReleaseLease(task.PolicyID, runID); err != nil {
			slog.Error("Failed to release lease", "policy", task.PolicyID, "error", err)
		}
	}()
}

func (s *Scheduler) recoverExpiredLeases() {
	recovered, err := s.store.ClearExpiredLeases()
	if err != nil {
		slog.Error("Failed to recover expired leases", "error", err)
		return
	}
	if recovered > 0 {
		slog.Info("Recovered expired leases", "count", recovered)
	}
}

func (s *Scheduler) processCatchUp() {
	missed := s.store.OverdueCount()
	if missed <= s.maxCatchupRuns {
		return
	}

	slog.Warn("Too many missed runs, skipping overdue occurrences", "missed", missed, "max", s.maxCatchupRuns)
	if _, err := s.store.AdvanceOverdue(); err != nil {
		slog.Error("Failed to skip overdue occurrences", "error", err)
	}
}

func (s *Scheduler) waitForInFlightTasks() {
	ticker := time.NewTicker(s.inFlightPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			count := s.inFlightTasks
			s.mu.RUnlock()

			if count == 0 {
				return
			}
			slog.Info("Waiting for in-flight runs", "count", count)
		case <-s.ctx.Done():
			// Submitted runs observe the same context; give them a
			// moment to unwind before reporting done.
			s.wg.Wait()
			return
		}
	}
}

func mustTasks(store *Store) []Task {
	tasks, err := store.LoadTasks()
	if err != nil {
		return nil
	}
	return tasks
}
