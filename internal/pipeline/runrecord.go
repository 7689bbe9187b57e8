package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	"github.com/natefinch/atomic"
)

type Outcome string

const (
	OutcomeSynced       Outcome = "synced"
	OutcomeNoChange     Outcome = "no_change"
	OutcomeRejected     Outcome = "rejected"
	OutcomeFailed       Outcome = "failed"
	OutcomeBaselineInit Outcome = "baseline_initialized"
)

// RunRecord is the immutable audit trail of one pipeline run.
type RunRecord struct {
	RunID        string           `json:"run_id"`
	PolicyID     string           `json:"policy_id"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Outcome      Outcome          `json:"outcome"`
	StageTimings map[string]int64 `json:"stage_timings_ms,omitempty"`

	MonitorSnapshotID   string `json:"monitor_snapshot_id,omitempty"`
	AuthorizeSnapshotID string `json:"authorize_snapshot_id,omitempty"`

	Decision        *Decision         `json:"decision,omitempty"`
	Comparison      *ComparisonResult `json:"comparison,omitempty"`
	NotificationIDs []string          `json:"notification_ids,omitempty"`
	Err             string            `json:"error,omitempty"`
}

// RunRecordStore is an append-only file store, one JSON file per run.
// Records are never rewritten or deleted.
type RunRecordStore struct {
	dir string
}

func NewRunRecordStore(dir string) (*RunRecordStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run records dir: %w", err)
	}
	return &RunRecordStore{dir: dir}, nil
}

// Append writes a finished run record. An existing record with the same
// run ID cannot be replaced.
func (s *RunRecordStore) Append(rec *RunRecord) error {
	if rec.RunID == "" || rec.PolicyID == "" {
		return kerrors.InvalidInput("run record needs run_id and policy_id")
	}

	dir := filepath.Join(s.dir, rec.PolicyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, rec.RunID+".json")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("run record %s already exists: %w", rec.RunID, kerrors.ErrConflict)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Get loads one run record.
func (s *RunRecordStore) Get(policyID, runID string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, policyID, runID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kerrors.NotFound(fmt.Sprintf("run record %s/%s", policyID, runID))
		}
		return nil, err
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt run record %s: %w", runID, err)
	}
	return &rec, nil
}

// List returns all records for a policy, oldest first.
func (s *RunRecordStore) List(policyID string) ([]RunRecord, error) {
	dir := filepath.Join(s.dir, policyID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(ids)

	records := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(policyID, id)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// RunStats aggregates comparison outcomes across a set of run records.
type RunStats struct {
	Total         int            `json:"total"`
	WithChanges   int            `json:"with_changes"`
	ByOutcome     map[string]int `json:"by_outcome"`
	ByCriticality map[string]int `json:"by_criticality"`
}

// ComputeRunStats tallies records. Criticality counts only the runs
// whose comparison found changes.
func ComputeRunStats(records []RunRecord) *RunStats {
	stats := &RunStats{
		ByOutcome:     make(map[string]int),
		ByCriticality: make(map[string]int),
	}
	for _, rec := range records {
		stats.Total++
		stats.ByOutcome[string(rec.Outcome)]++
		if rec.Comparison != nil && rec.Comparison.HasChanges {
			stats.WithChanges++
			stats.ByCriticality[rec.Comparison.Criticality]++
		}
	}
	return stats
}

// ListAll returns records across every policy, oldest first per policy.
func (s *RunRecordStore) ListAll() ([]RunRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var all []RunRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		records, err := s.List(e.Name())
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}
