package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("policy text"))
	}))
	defer srv.Close()

	text, err := NewHTTPSource(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "policy text", text)
}

func TestHTTPSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrSourceUnavailable)
}

func TestHTTPSource_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewHTTPSource(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrSourceUnavailable)
}

func TestFileSource_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("local policy"), 0o644))

	text, err := (&FileSource{Path: path}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local policy", text)
}

func TestFileSource_Missing(t *testing.T) {
	_, err := (&FileSource{Path: filepath.Join(t.TempDir(), "nope.txt")}).Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrSourceUnavailable)
}

func TestFileSink_Upsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")

	require.NoError(t, (&FileSink{Path: path}).Upsert(context.Background(), "accepted"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "accepted", string(data))
}

func TestForURL(t *testing.T) {
	assert.IsType(t, &HTTPSource{}, ForURL("https://example.com/policy"))
	assert.IsType(t, &HTTPSource{}, ForURL("http://example.com/policy"))
	assert.IsType(t, &FileSource{}, ForURL("file:///tmp/policy.txt"))
	assert.IsType(t, &FileSource{}, ForURL("/tmp/policy.txt"))
}

func TestSinkForURL(t *testing.T) {
	assert.Nil(t, SinkForURL(""))
	assert.Nil(t, SinkForURL("https://docs.example.com/view"))
	assert.IsType(t, &FileSink{}, SinkForURL("file:///tmp/doc.txt"))
}
