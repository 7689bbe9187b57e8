package baseline

import (
	"testing"

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

func TestInitAndLoad(t *testing.T) {
	s := newTestStore(t)

	b, err := s.Init("privacy-policy", "original text")
	require.NoError(t, err)
	assert.Equal(t, Version("original text"), b.Version)
	assert.False(t, b.UpdatedAt.IsZero())

	got, err := s.Load("privacy-policy")
	require.NoError(t, err)
	assert.Equal(t, "original text", got.Text)
	assert.Equal(t, b.Version, got.Version)
}

func TestInit_AlreadyExists(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Init("privacy-policy", "v1")
	require.NoError(t, err)

	_, err = s.Init("privacy-policy", "v2")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrConflict)
}

func TestLoad_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("unknown")
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestSwap(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Init("tos", "v1")
	require.NoError(t, err)

	second, err := s.Swap("tos", first.Version, "v2")
	require.NoError(t, err)
	assert.Equal(t, Version("v2"), second.Version)

	got, err := s.Load("tos")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Text)

	// Previous baseline is preserved as a backup.
	backup, err := s.LoadBackup("tos")
	require.NoError(t, err)
	assert.Equal(t, "v1", backup.Text)
	assert.Equal(t, first.Version, backup.Version)
}

func TestSwap_StaleVersion(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Init("tos", "v1")
	require.NoError(t, err)

	_, err = s.Swap("tos", first.Version, "v2")
	require.NoError(t, err)

	// A second swap against the original version must fail and leave
	// the current baseline untouched.
	_, err = s.Swap("tos", first.Version, "v3")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrConflict)

	got, err := s.Load("tos")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Text)
}

func TestSwap_MissingBaseline(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Swap("ghost", Version("x"), "y")
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}

func TestLoadBackup_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Init("tos", "v1")
	require.NoError(t, err)

	_, err = s.LoadBackup("tos")
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
}
