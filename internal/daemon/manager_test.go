package daemon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/kanshi/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

type mockComponent struct {
	name     string
	deps     []string
	log      *callLog
	initErr  error
	startErr error
	healthy  bool
}

func (m *mockComponent) Name() string           { return m.name }
func (m *mockComponent) Dependencies() []string { return m.deps }

func (m *mockComponent) Init(ctx context.Context) error {
	m.log.record("init:" + m.name)
	return m.initErr
}

func (m *mockComponent) Start(ctx context.Context) error {
	m.log.record("start:" + m.name)
	if m.startErr == nil {
		m.healthy = true
	}
	return m.startErr
}

func (m *mockComponent) Stop(ctx context.Context) error {
	m.log.record("stop:" + m.name)
	m.healthy = false
	return nil
}

func (m *mockComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	if !m.healthy {
		return &ComponentHealth{Name: m.name, Healthy: false, Error: fmt.Errorf("not running")}, nil
	}
	return &ComponentHealth{Name: m.name, Healthy: true}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Daemon: config.DaemonConfig{
			WorkspacePath:       t.TempDir(),
			ShutdownTimeout:     "2s",
			HealthCheckInterval: "50ms",
		},
		Store: config.StoreConfig{
			LockTimeout:  "200ms",
			LockRetry:    "20ms",
			LockMaxRetry: 3,
		},
	}
}

func TestNewDaemonRequiresWorkspaceID(t *testing.T) {
	_, err := NewDaemon("", testConfig(t))
	assert.Error(t, err)
}

func TestResolveInitOrder(t *testing.T) {
	d, err := NewDaemon("default", testConfig(t))
	require.NoError(t, err)

	log := &callLog{}
	d.AddComponent(&mockComponent{name: "Transport", log: log})
	d.AddComponent(&mockComponent{name: "Scheduler", deps: []string{"Transport"}, log: log})
	d.AddComponent(&mockComponent{name: "Retention", deps: []string{"Scheduler"}, log: log})

	order, err := d.resolveInitOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"Transport", "Scheduler", "Retention"}, order)
}

func TestResolveInitOrder_CircularDependency(t *testing.T) {
	d, err := NewDaemon("default", testConfig(t))
	require.NoError(t, err)

	log := &callLog{}
	d.AddComponent(&mockComponent{name: "A", deps: []string{"B"}, log: log})
	d.AddComponent(&mockComponent{name: "B", deps: []string{"A"}, log: log})

	_, err = d.resolveInitOrder()
	assert.ErrorContains(t, err, "circular dependency")
}

func TestValidateDependencies_Missing(t *testing.T) {
	d, err := NewDaemon("default", testConfig(t))
	require.NoError(t, err)

	log := &callLog{}
	d.AddComponent(&mockComponent{name: "Scheduler", deps: []string{"Ghost"}, log: log})

	err = d.validateDependencies()
	assert.ErrorContains(t, err, "Ghost")
}

func TestDaemonLifecycle(t *testing.T) {
	d, err := NewDaemon("default", testConfig(t))
	require.NoError(t, err)

	log := &callLog{}
	d.AddComponent(&mockComponent{name: "Transport", log: log})
	d.AddComponent(&mockComponent{name: "Scheduler", deps: []string{"Transport"}, log: log})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return d.Health() == StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	assert.Equal(t, StatusStopped, d.Health())
	assert.Equal(t, []string{
		"init:Transport",
		"init:Scheduler",
		"start:Transport",
		"start:Scheduler",
		// Shutdown runs in reverse registration order.
		"stop:Scheduler",
		"stop:Transport",
	}, log.all())
}

func TestDaemonInitFailureRollsBack(t *testing.T) {
	d, err := NewDaemon("default", testConfig(t))
	require.NoError(t, err)

	log := &callLog{}
	d.AddComponent(&mockComponent{name: "Transport", log: log})
	d.AddComponent(&mockComponent{name: "Scheduler", log: log, initErr: fmt.Errorf("boom")})

	err = d.Start(context.Background())
	assert.ErrorContains(t, err, "initialization failed")
	assert.Equal(t, StatusStopped, d.Health())
	assert.Contains(t, log.all(), "stop:Transport")
}

func TestDaemonStartFailureShutsDown(t *testing.T) {
	d, err := NewDaemon("default", testConfig(t))
	require.NoError(t, err)

	log := &callLog{}
	d.AddComponent(&mockComponent{name: "Transport", log: log})
	d.AddComponent(&mockComponent{name: "Scheduler", log: log, startErr: fmt.Errorf("boom")})

	err = d.Start(context.Background())
	assert.ErrorContains(t, err, "startup failed")
	assert.Contains(t, log.all(), "stop:Transport")
}

func TestDaemonWorkspaceLockIsExclusive(t *testing.T) {
	cfg := testConfig(t)

	first, err := NewDaemon("default", cfg)
	require.NoError(t, err)
	log := &callLog{}
	first.AddComponent(&mockComponent{name: "Transport", log: log})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- first.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return first.Health() == StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	// A second daemon on the same workspace cannot get the lock.
	second, err := NewDaemon("default", cfg)
	require.NoError(t, err)
	err = second.Start(context.Background())
	assert.ErrorContains(t, err, "workspace lock failed")

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("first daemon did not shut down")
	}
}

func TestComponentHealthReporting(t *testing.T) {
	d, err := NewDaemon("default", testConfig(t))
	require.NoError(t, err)

	log := &callLog{}
	healthy := &mockComponent{name: "Transport", log: log, healthy: true}
	unhealthy := &mockComponent{name: "Scheduler", log: log}
	d.AddComponent(healthy)
	d.AddComponent(unhealthy)

	healths := d.ComponentHealth()
	require.Len(t, healths, 2)
	assert.True(t, healths["Transport"].Healthy)
	assert.False(t, healths["Scheduler"].Healthy)
}
