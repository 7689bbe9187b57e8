package corrector

import (
	"context"
	"testing"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	response string
	err      error
	calls    int
}

func (f *fakeRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &contract.CompletionResponse{Content: f.response}, nil
}

func (f *fakeRouter) ListModels() []string             { return nil }
func (f *fakeRouter) Health(ctx context.Context) error { return nil }

func TestCorrect_TrimsResponse(t *testing.T) {
	router := &fakeRouter{response: "\n  Masks are required.  \n"}
	c := NewLLMCorrector(router, "gemini-2.0-flash")

	out, err := c.Correct(context.Background(), "Masks are required.  [skip to content]")
	require.NoError(t, err)
	assert.Equal(t, "Masks are required.", out)
	assert.Equal(t, 1, router.calls)
}

func TestCorrect_EmptyResponseIsInvalid(t *testing.T) {
	router := &fakeRouter{response: "   "}
	c := NewLLMCorrector(router, "m")

	_, err := c.Correct(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrInvalidModelOutput)
}

func TestCorrect_RouterErrorSurfaces(t *testing.T) {
	router := &fakeRouter{err: kerrors.Internal("provider down")}
	c := NewLLMCorrector(router, "m")

	_, err := c.Correct(context.Background(), "text")
	require.Error(t, err)
}

func TestStubCorrectorEchoesByDefault(t *testing.T) {
	stub := &StubCorrector{}
	out, err := stub.Correct(context.Background(), "unchanged")
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
	assert.Equal(t, 1, stub.Calls)
}
