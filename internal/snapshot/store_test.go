package snapshot

import (
	"testing"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Put(Record{
		OwnerKey: "privacy-policy",
		Stage:    StageMonitor,
		RawText:  "All users must accept the terms.",
		Metadata: map[string]string{"source": "https://example.com/privacy"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, HashContent("All users must accept the terms."), rec.ContentHash)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.Get("privacy-policy", StageMonitor, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.RawText, got.RawText)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.Equal(t, "https://example.com/privacy", got.Metadata["source"])
}

func TestPut_Validation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put(Record{Stage: StageMonitor, RawText: "x"})
	assert.ErrorIs(t, err, kerrors.ErrInvalidInput)

	_, err = s.Put(Record{OwnerKey: "p", Stage: "review", RawText: "x"})
	assert.ErrorIs(t, err, kerrors.ErrInvalidInput)
}

func TestListAndLatest_Ordering(t *testing.T) {
	s := newTestStore(t)

	var ids []string
	for _, text := range []string{"v1", "v2", "v3"} {
		rec, err := s.Put(Record{OwnerKey: "tos", Stage: StageMonitor, RawText: text})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	records, err := s.List("tos", StageMonitor)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, ids[i], rec.ID)
	}

	latest, err := s.Latest("tos", StageMonitor)
	require.NoError(t, err)
	assert.Equal(t, "v3", latest.RawText)
}

func TestLatest_Empty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Latest("nothing", StageMonitor)
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestStagesAreIsolated(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put(Record{OwnerKey: "tos", Stage: StageMonitor, RawText: "m"})
	require.NoError(t, err)
	_, err = s.Put(Record{OwnerKey: "tos", Stage: StageAuthorize, RawText: "a"})
	require.NoError(t, err)

	monitor, err := s.List("tos", StageMonitor)
	require.NoError(t, err)
	authorize, err := s.List("tos", StageAuthorize)
	require.NoError(t, err)
	assert.Len(t, monitor, 1)
	assert.Len(t, authorize, 1)
	assert.Equal(t, "m", monitor[0].RawText)
	assert.Equal(t, "a", authorize[0].RawText)
}

func TestKeepLastN(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.Put(Record{OwnerKey: "tos", Stage: StageMonitor, RawText: "v"})
		require.NoError(t, err)
	}

	removed, err := s.KeepLastN("tos", StageMonitor, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	records, err := s.List("tos", StageMonitor)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)

	old, err := s.Put(Record{OwnerKey: "tos", Stage: StageMonitor, RawText: "old"})
	require.NoError(t, err)

	// Everything created so far is older than a future cutoff.
	removed, err := s.DeleteOlderThan("tos", StageMonitor, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get("tos", StageMonitor, old.ID)
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestRetainBlocksPruning(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Put(Record{OwnerKey: "tos", Stage: StageMonitor, RawText: "held"})
	require.NoError(t, err)

	s.Retain("run-1", rec.ID)

	removed, err := s.DeleteOlderThan("tos", StageMonitor, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = s.KeepLastN("tos", StageMonitor, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	s.Release("run-1")

	removed, err = s.KeepLastN("tos", StageMonitor, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestOwners(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put(Record{OwnerKey: "b-policy", Stage: StageMonitor, RawText: "x"})
	require.NoError(t, err)
	_, err = s.Put(Record{OwnerKey: "a-policy", Stage: StageMonitor, RawText: "y"})
	require.NoError(t, err)

	owners, err := s.Owners()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-policy", "b-policy"}, owners)
}
