package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kanshi/internal/config"
	"github.com/harunnryd/kanshi/internal/daemon"
	"github.com/harunnryd/kanshi/internal/retention"
)

// RetentionComponent sweeps old snapshots on a fixed interval.
type RetentionComponent struct {
	engine   *retention.Engine
	cfg      *config.RetentionConfig
	interval time.Duration

	mu      sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewRetentionComponent(engine *retention.Engine, cfg *config.RetentionConfig) *RetentionComponent {
	return &RetentionComponent{engine: engine, cfg: cfg}
}

func (r *RetentionComponent) Name() string {
	return "Retention"
}

func (r *RetentionComponent) Dependencies() []string {
	return []string{}
}

func (r *RetentionComponent) Init(ctx context.Context) error {
	if r.engine == nil {
		return fmt.Errorf("retention engine not configured")
	}

	interval, err := config.DurationOrDefault(r.cfg.Interval, config.DefaultRetentionInterval)
	if err != nil {
		return fmt.Errorf("parse retention interval: %w", err)
	}
	r.interval = interval

	slog.Info("Retention initialized", "component", r.Name(), "interval", interval)
	return nil
}

func (r *RetentionComponent) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	if r.interval <= 0 {
		return fmt.Errorf("retention component not initialized")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	go r.run(sweepCtx)

	slog.Info("Retention started", "component", r.Name())
	return nil
}

func (r *RetentionComponent) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.engine.Prune(ctx); err != nil {
				slog.Warn("Retention sweep failed", "component", r.Name(), "error", err)
			}
		}
	}
}

func (r *RetentionComponent) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.started = false
	slog.Info("Retention stopped", "component", r.Name())
	return nil
}

func (r *RetentionComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.started {
		return &daemon.ComponentHealth{Name: r.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	return &daemon.ComponentHealth{Name: r.Name(), Healthy: true}, nil
}
