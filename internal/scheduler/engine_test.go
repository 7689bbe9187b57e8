package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/kanshi/internal/config"
	"github.com/harunnryd/kanshi/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSubmitter struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (m *mockSubmitter) Submit(ctx context.Context, pol *policy.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, pol.OwnerKey)
	return m.err
}

func (m *mockSubmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

func newTestScheduler(t *testing.T, schedules map[string]string, submitter RunSubmitter, cfg config.SchedulerConfig) (*Scheduler, *Store) {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	sched, err := NewScheduler(st, testRegistry(t, schedules), submitter, cfg)
	require.NoError(t, err)
	return sched, st
}

func TestSchedulerLifecycle(t *testing.T) {
	submitter := &mockSubmitter{}
	sched, _ := newTestScheduler(t, map[string]string{"masks": "@every 1h"}, submitter, config.SchedulerConfig{})

	ctx := context.Background()
	require.NoError(t, sched.Init(ctx))
	require.NotNil(t, sched.ctx)

	require.NoError(t, sched.Start(ctx))
	assert.True(t, sched.IsRunning())
	require.NoError(t, sched.Health(ctx))

	// Start is idempotent.
	require.NoError(t, sched.Start(ctx))

	require.NoError(t, sched.Stop(ctx))
	assert.False(t, sched.IsRunning())
	assert.Error(t, sched.Health(ctx))

	// Stop is idempotent too.
	require.NoError(t, sched.Stop(ctx))
}

func TestSchedulerFiresDueTask(t *testing.T) {
	submitter := &mockSubmitter{}
	sched, st := newTestScheduler(t, map[string]string{"masks": "@every 1h"}, submitter, config.SchedulerConfig{
		TickInterval: "10ms",
	})

	ctx := context.Background()
	require.NoError(t, sched.Init(ctx))

	// Make the task due but keep the missed count within the catch-up
	// budget so startup does not skip it.
	st.mu.Lock()
	st.data.Tasks["masks"].NextRun = time.Now().Add(-time.Second)
	st.mu.Unlock()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop(ctx)

	require.Eventually(t, func() bool {
		return submitter.count() >= 1
	}, 2*time.Second, 10*time.Millisecond, "due task should fire on a tick")

	// NextRun advanced an hour out, so no second fire happens.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, submitter.count())

	// The lease is released once the run returns.
	require.Eventually(t, func() bool {
		lease, err := st.GetLease("masks")
		return err == nil && lease == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerSurvivesFailedRuns(t *testing.T) {
	submitter := &mockSubmitter{err: assert.AnError}
	sched, st := newTestScheduler(t, map[string]string{"masks": "@every 1h"}, submitter, config.SchedulerConfig{
		TickInterval: "10ms",
	})

	ctx := context.Background()
	require.NoError(t, sched.Init(ctx))

	st.mu.Lock()
	st.data.Tasks["masks"].NextRun = time.Now().Add(-time.Second)
	st.mu.Unlock()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop(ctx)

	require.Eventually(t, func() bool {
		return submitter.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, sched.IsRunning(), "a failed run never stops the loop")

	require.Eventually(t, func() bool {
		lease, err := st.GetLease("masks")
		return err == nil && lease == nil
	}, 2*time.Second, 10*time.Millisecond, "lease released even when the run fails")
}

func TestSchedulerLeaseBlocksFire(t *testing.T) {
	submitter := &mockSubmitter{}
	sched, st := newTestScheduler(t, map[string]string{"masks": "@every 1h"}, submitter, config.SchedulerConfig{})

	ctx := context.Background()
	require.NoError(t, sched.Init(ctx))
	require.NoError(t, sched.Start(ctx))
	defer sched.Stop(ctx)

	// Another daemon holds the lease: firing is refused silently.
	require.NoError(t, st.AcquireLease("masks", "other-daemon", time.Now().Add(time.Minute)))

	tasks, err := st.LoadTasks()
	require.NoError(t, err)
	sched.fireTask(tasks[0], time.Now())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, submitter.count())
}

func TestSchedulerCatchUpSkipsBacklog(t *testing.T) {
	submitter := &mockSubmitter{}
	sched, st := newTestScheduler(t, map[string]string{
		"masks":   "@every 1h",
		"refunds": "@every 1h",
		"visas":   "@every 1h",
	}, submitter, config.SchedulerConfig{
		TickInterval:   "10ms",
		MaxCatchupRuns: 1,
	})

	ctx := context.Background()
	require.NoError(t, sched.Init(ctx))

	// Three overdue tasks exceed the catch-up budget of one: all are
	// advanced past now instead of firing a thundering herd.
	st.mu.Lock()
	for _, task := range st.data.Tasks {
		task.NextRun = time.Now().Add(-2 * time.Hour)
	}
	st.mu.Unlock()

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop(ctx)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, submitter.count())
	assert.Equal(t, 0, st.OverdueCount())
}

func TestNewSchedulerRejectsBadDurations(t *testing.T) {
	st, err := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	_, err = NewScheduler(st, testRegistry(t, nil), &mockSubmitter{}, config.SchedulerConfig{
		TickInterval: "not-a-duration",
	})
	assert.Error(t, err)
}
