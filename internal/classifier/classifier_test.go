package classifier

import (
	"context"
	"testing"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &contract.CompletionResponse{Content: f.responses[idx]}, nil
}

func (f *fakeRouter) ListModels() []string             { return nil }
func (f *fakeRouter) Health(ctx context.Context) error { return nil }

func TestMaxCriticality(t *testing.T) {
	assert.Equal(t, CriticalityCritical, MaxCriticality(CriticalityHigh, CriticalityCritical))
	assert.Equal(t, CriticalityHigh, MaxCriticality(CriticalityHigh, CriticalityMedium))
	assert.Equal(t, CriticalityLow, MaxCriticality(CriticalityLow, CriticalityLow))
	assert.Equal(t, CriticalityMedium, MaxCriticality("", CriticalityMedium))
	assert.Equal(t, CriticalityLow, MaxCriticality("", "bogus"))
}

func TestClassify_HasChange(t *testing.T) {
	router := &fakeRouter{responses: []string{
		`{"has_change": true, "summary": "Retention period shortened", "criticality": "high"}`,
	}}
	c := NewLLMClassifier(router, "gemini-2.0-flash")

	verdict, err := c.Classify(context.Background(), "old", "new")
	require.NoError(t, err)
	assert.True(t, verdict.HasChange)
	assert.Equal(t, CriticalityHigh, verdict.Criticality)
	assert.Equal(t, "Retention period shortened", verdict.Summary)
}

func TestClassify_NoChangeClearsFields(t *testing.T) {
	router := &fakeRouter{responses: []string{
		`{"has_change": false, "summary": "ignored", "criticality": "low"}`,
	}}
	c := NewLLMClassifier(router, "m")

	verdict, err := c.Classify(context.Background(), "same", "same")
	require.NoError(t, err)
	assert.False(t, verdict.HasChange)
	assert.Empty(t, verdict.Criticality)
	assert.Empty(t, verdict.Summary)
}

func TestClassify_RetriesOnceOnInvalidOutput(t *testing.T) {
	router := &fakeRouter{responses: []string{
		"sorry, I can't help with that",
		`{"has_change": true, "summary": "ok", "criticality": "medium"}`,
	}}
	c := NewLLMClassifier(router, "m")

	verdict, err := c.Classify(context.Background(), "old", "new")
	require.NoError(t, err)
	assert.Equal(t, 2, router.calls)
	assert.Equal(t, CriticalityMedium, verdict.Criticality)
}

func TestClassify_GivesUpAfterSecondInvalidOutput(t *testing.T) {
	router := &fakeRouter{responses: []string{"nope", "still nope"}}
	c := NewLLMClassifier(router, "m")

	_, err := c.Classify(context.Background(), "old", "new")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrInvalidModelOutput)
	assert.Equal(t, 2, router.calls)
}

func TestClassify_UnknownCriticality(t *testing.T) {
	router := &fakeRouter{responses: []string{
		`{"has_change": true, "summary": "x", "criticality": "catastrophic"}`,
	}}
	c := NewLLMClassifier(router, "m")

	_, err := c.Classify(context.Background(), "old", "new")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrInvalidModelOutput)
}

func TestClassify_RouterErrorNotRetried(t *testing.T) {
	router := &fakeRouter{err: kerrors.Internal("provider down")}
	c := NewLLMClassifier(router, "m")

	_, err := c.Classify(context.Background(), "old", "new")
	require.Error(t, err)
	assert.NotErrorIs(t, err, kerrors.ErrInvalidModelOutput)
}

func TestStubClassifier(t *testing.T) {
	stub := &StubClassifier{Verdict: &Verdict{HasChange: true, Criticality: CriticalityLow}}

	verdict, err := stub.Classify(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.True(t, verdict.HasChange)
	assert.Equal(t, 1, stub.Calls)
}
