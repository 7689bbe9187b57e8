package daemon

import "context"

// HealthStatus is the daemon-level lifecycle state reported by Health.
type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one component's self-report during the periodic
// health sweep.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is a daemon-managed subsystem; the scheduler, retention
// sweeper, and transport each implement it. Init runs in dependency
// order, Stop in reverse registration order.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
