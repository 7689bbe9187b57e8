// Package source fetches policy text from where it lives and pushes the
// accepted copy to where readers see it.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"

	"github.com/natefinch/atomic"
)

// Source yields the current text of a watched document.
type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// Sink receives the accepted text after a baseline swap.
type Sink interface {
	Upsert(ctx context.Context, text string) error
}

const defaultFetchTimeout = 30 * time.Second

// HTTPSource fetches a document over HTTP(S).
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: defaultFetchTimeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", kerrors.InvalidInput(fmt.Sprintf("invalid source url %q: %v", s.URL, err))
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s failed: %v: %w", s.URL, err, kerrors.ErrSourceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s returned status %d: %w", s.URL, resp.StatusCode, kerrors.ErrSourceUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s failed: %v: %w", s.URL, err, kerrors.ErrSourceUnavailable)
	}

	return string(body), nil
}

// FileSource reads a document from the local filesystem.
type FileSource struct {
	Path string
}

func (s *FileSource) Fetch(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("source file %s missing: %w", s.Path, kerrors.ErrSourceUnavailable)
		}
		return "", err
	}
	return string(data), nil
}

// FileSink writes the accepted text to a local file atomically.
type FileSink struct {
	Path string
}

func (s *FileSink) Upsert(ctx context.Context, text string) error {
	if err := atomic.WriteFile(s.Path, strings.NewReader(text)); err != nil {
		return fmt.Errorf("failed to sync %s: %w", s.Path, err)
	}
	return nil
}

// ForURL picks a source implementation from a policy's source URL.
// Anything without an http(s) scheme is treated as a local path.
func ForURL(url string) Source {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return NewHTTPSource(url)
	}
	return &FileSource{Path: strings.TrimPrefix(url, "file://")}
}

// SinkForURL picks a sink implementation from a policy's doc URL. An
// empty URL yields no sink, which skips the sync stage for that policy.
func SinkForURL(url string) Sink {
	if url == "" {
		return nil
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return nil
	}
	return &FileSink{Path: strings.TrimPrefix(url, "file://")}
}
