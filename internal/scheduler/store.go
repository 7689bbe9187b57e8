package scheduler

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/policy"

	"github.com/natefinch/atomic"
	"github.com/robfig/cron/v3"
)

type LeaseStatus string

const (
	StatusLeased LeaseStatus = "LEASED"
)

// Lease marks a task as claimed by a specific run. A crashed daemon
// leaves the lease behind; it is recovered once ExpiresAt passes.
type Lease struct {
	RunID     string      `json:"run_id"`
	Status    LeaseStatus `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Task is one scheduled policy check.
type Task struct {
	PolicyID string    `json:"policy_id"`
	Schedule string    `json:"schedule"` // Cron spec or "@every 1h"
	NextRun  time.Time `json:"next_run"`
	Lease    *Lease    `json:"lease,omitempty"`
}

type taskList struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Store persists the scheduled task set as a single JSON file.
type Store struct {
	path string
	data taskList
	mu   sync.RWMutex
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: taskList{Tasks: make(map[string]*Task)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}
	if err := json.Unmarshal(content, &s.data); err != nil {
		return err
	}
	if s.data.Tasks == nil {
		s.data.Tasks = make(map[string]*Task)
	}
	return nil
}

func (s *Store) save() error {
	// Internal save, lock held by caller
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}

// SyncPolicies reconciles the task set with the policy registry: one
// task per scheduled policy, stale tasks removed, existing NextRun and
// leases preserved.
func (s *Store) SyncPolicies(reg *policy.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	now := time.Now()
	for _, pol := range reg.All() {
		if pol.Schedule == "" {
			continue
		}
		seen[pol.OwnerKey] = struct{}{}

		t, ok := s.data.Tasks[pol.OwnerKey]
		if !ok {
			t = &Task{PolicyID: pol.OwnerKey}
			s.data.Tasks[pol.OwnerKey] = t
		}
		if t.Schedule != pol.Schedule {
			t.Schedule = pol.Schedule
			t.NextRun = time.Time{}
		}
		if t.NextRun.IsZero() {
			sched, err := cron.ParseStandard(pol.Schedule)
			if err != nil {
				return kerrors.InvalidInput("invalid schedule for policy " + pol.OwnerKey + ": " + err.Error())
			}
			t.NextRun = sched.Next(now)
		}
	}

	for id := range s.data.Tasks {
		if _, ok := seen[id]; !ok {
			delete(s.data.Tasks, id)
		}
	}
	return s.save()
}

// LoadTasks returns a copy of every task.
func (s *Store) LoadTasks() ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.data.Tasks))
	for _, t := range s.data.Tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// ShouldFire reports whether the task is due. When it is, NextRun is
// advanced to the following occurrence so a slow run never fires twice.
func (s *Store) ShouldFire(policyID string) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[policyID]
	if !ok {
		return false, time.Time{}, kerrors.NotFound("task " + policyID)
	}

	now := time.Now()
	if t.NextRun.After(now) {
		return false, t.NextRun, nil
	}

	sched, err := cron.ParseStandard(t.Schedule)
	if err != nil {
		return false, time.Time{}, kerrors.InvalidInput("invalid schedule: " + err.Error())
	}

	fireTime := t.NextRun
	t.NextRun = sched.Next(now)
	if err := s.save(); err != nil {
		return false, time.Time{}, err
	}
	return true, fireTime, nil
}

// AcquireLease claims the task for a run. A live lease held by another
// run refuses the claim.
func (s *Store) AcquireLease(policyID, runID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[policyID]
	if !ok {
		return kerrors.NotFound("task " + policyID)
	}

	if t.Lease != nil && t.Lease.Status == StatusLeased && time.Now().Before(t.Lease.ExpiresAt) {
		return kerrors.Wrap(kerrors.ErrConflict, "task already leased")
	}

	t.Lease = &Lease{
		RunID:     runID,
		Status:    StatusLeased,
		ExpiresAt: expiresAt,
	}
	return s.save()
}

// ReleaseLease clears the lease after the run finished, regardless of
// its outcome. A mismatched run ID leaves the lease alone.
func (s *Store) ReleaseLease(policyID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data.Tasks[policyID]
	if !ok {
		return kerrors.NotFound("task " + policyID)
	}
	if t.Lease == nil || t.Lease.RunID != runID {
		return kerrors.Wrap(kerrors.ErrConflict, "lease mismatch")
	}

	t.Lease = nil
	return s.save()
}

func (s *Store) GetLease(policyID string) (*Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data.Tasks[policyID]
	if !ok {
		return nil, kerrors.NotFound("task " + policyID)
	}
	return t.Lease, nil
}

// OverdueCount reports how many tasks are past their NextRun.
func (s *Store) OverdueCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	overdue := 0
	for _, t := range s.data.Tasks {
		if !t.NextRun.IsZero() && t.NextRun.Before(now) {
			overdue++
		}
	}
	return overdue
}

// AdvanceOverdue skips every overdue occurrence, moving NextRun to the
// next future one. Used when too many runs were missed while the daemon
// was down.
func (s *Store) AdvanceOverdue() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	advanced := 0
	for _, t := range s.data.Tasks {
		if t.NextRun.IsZero() || !t.NextRun.Before(now) {
			continue
		}
		sched, err := cron.ParseStandard(t.Schedule)
		if err != nil {
			continue
		}
		t.NextRun = sched.Next(now)
		advanced++
	}
	if advanced == 0 {
		return 0, nil
	}
	return advanced, s.save()
}

// ClearExpiredLeases drops leases whose expiry has passed and returns
// how many were recovered.
func (s *Store) ClearExpiredLeases() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	now := time.Now()
	for _, t := range s.data.Tasks {
		if t.Lease != nil && now.After(t.Lease.ExpiresAt) {
			t.Lease = nil
			recovered++
		}
	}
	if recovered == 0 {
		return 0, nil
	}
	return recovered, s.save()
}
