package evidence

import (
	"context"
	"testing"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	content string
	err     error
	delay   time.Duration
}

func (f *fakeRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &contract.CompletionResponse{Content: f.content}, nil
}

func (f *fakeRouter) ListModels() []string             { return nil }
func (f *fakeRouter) Health(ctx context.Context) error { return nil }

func TestModelValidator_Query(t *testing.T) {
	router := &fakeRouter{content: `{"supports": true, "confidence": 0.92, "references": [{"url": "https://example.com/notice"}]}`}
	v := NewModelValidator(router, "gemini-2.0-flash", time.Second)

	result, err := v.Query(context.Background(), "the privacy policy changed")
	require.NoError(t, err)
	assert.True(t, result.Supports)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	require.Len(t, result.References, 1)
	assert.Equal(t, "https://example.com/notice", result.References[0].URL)
	assert.False(t, result.References[0].RetrievedAt.IsZero())
}

func TestModelValidator_FencedJSON(t *testing.T) {
	router := &fakeRouter{content: "Here is the verdict:\n```json\n{\"supports\": false, \"confidence\": 0.3}\n```"}
	v := NewModelValidator(router, "gpt-4-turbo", time.Second)

	result, err := v.Query(context.Background(), "claim")
	require.NoError(t, err)
	assert.False(t, result.Supports)
	assert.InDelta(t, 0.3, result.Confidence, 1e-9)
}

func TestModelValidator_MalformedOutput(t *testing.T) {
	cases := map[string]string{
		"no json":              "I cannot answer that.",
		"broken json":          `{"supports": maybe}`,
		"confidence too large": `{"supports": true, "confidence": 2.0}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			v := NewModelValidator(&fakeRouter{content: content}, "m", time.Second)
			_, err := v.Query(context.Background(), "claim")
			require.Error(t, err)
			assert.ErrorIs(t, err, kerrors.ErrEvidenceUnavailable)
		})
	}
}

func TestModelValidator_RouterError(t *testing.T) {
	v := NewModelValidator(&fakeRouter{err: kerrors.Internal("provider down")}, "m", time.Second)

	_, err := v.Query(context.Background(), "claim")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrEvidenceUnavailable)
}

func TestModelValidator_QueryTimeout(t *testing.T) {
	v := NewModelValidator(&fakeRouter{delay: 200 * time.Millisecond, content: "{}"}, "m", 20*time.Millisecond)

	_, err := v.Query(context.Background(), "claim")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrTransient)
}

func TestModelValidator_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewModelValidator(&fakeRouter{delay: time.Second, content: "{}"}, "m", time.Minute)
	_, err := v.Query(ctx, "claim")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStubValidator(t *testing.T) {
	stub := &StubValidator{Result: &Result{Supports: true, Confidence: 0.8}}

	result, err := stub.Query(context.Background(), "claim one")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)

	_, err = stub.Query(context.Background(), "claim two")
	require.NoError(t, err)
	assert.Equal(t, []string{"claim one", "claim two"}, stub.Queries)
}
