package pipeline

import (
	"testing"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRecordAppendRejectsDuplicates(t *testing.T) {
	store, err := NewRunRecordStore(t.TempDir())
	require.NoError(t, err)

	rec := &RunRecord{
		RunID:      "01ABC",
		PolicyID:   "billing/refunds",
		StartedAt:  time.Now().Add(-time.Second),
		FinishedAt: time.Now(),
		Outcome:    OutcomeSynced,
	}
	require.NoError(t, store.Append(rec))

	err = store.Append(rec)
	assert.ErrorIs(t, err, kerrors.ErrConflict)
}

func TestRunRecordAppendValidates(t *testing.T) {
	store, err := NewRunRecordStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Append(&RunRecord{RunID: "01ABC"}))
	assert.Error(t, store.Append(&RunRecord{PolicyID: "billing/refunds"}))
}

func TestRunRecordGetAndList(t *testing.T) {
	store, err := NewRunRecordStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"01AAA", "01BBB", "01CCC"} {
		require.NoError(t, store.Append(&RunRecord{
			RunID:    id,
			PolicyID: "billing/refunds",
			Outcome:  OutcomeNoChange,
		}))
	}
	require.NoError(t, store.Append(&RunRecord{
		RunID:    "01DDD",
		PolicyID: "security/access",
		Outcome:  OutcomeSynced,
	}))

	got, err := store.Get("billing/refunds", "01BBB")
	require.NoError(t, err)
	assert.Equal(t, "01BBB", got.RunID)

	_, err = store.Get("billing/refunds", "missing")
	assert.ErrorIs(t, err, kerrors.ErrNotFound)

	records, err := store.List("billing/refunds")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "01AAA", records[0].RunID)
	assert.Equal(t, "01CCC", records[2].RunID)

	all, err := store.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestComputeRunStats(t *testing.T) {
	records := []RunRecord{
		{Outcome: OutcomeNoChange, Comparison: &ComparisonResult{HasChanges: false}},
		{Outcome: OutcomeSynced, Comparison: &ComparisonResult{HasChanges: true, Criticality: "high"}},
		{Outcome: OutcomeSynced, Comparison: &ComparisonResult{HasChanges: true, Criticality: "low"}},
		{Outcome: OutcomeRejected},
		{Outcome: OutcomeFailed},
	}

	stats := ComputeRunStats(records)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.WithChanges)
	assert.Equal(t, 2, stats.ByOutcome["synced"])
	assert.Equal(t, 1, stats.ByOutcome["rejected"])
	assert.Equal(t, 1, stats.ByCriticality["high"])
	assert.Equal(t, 1, stats.ByCriticality["low"])
}

func TestComputeRunStatsEmpty(t *testing.T) {
	stats := ComputeRunStats(nil)
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.ByOutcome)
}
