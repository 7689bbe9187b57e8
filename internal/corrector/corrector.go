// Package corrector proposes a minimally corrected version of freshly
// fetched policy text: encoding noise, stray markup fragments, broken
// line wrapping. It must never change meaning; callers guard its
// output with a drift ceiling.
package corrector

import (
	"context"
	"fmt"
	"strings"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/model"
	"github.com/harunnryd/kanshi/internal/model/contract"
)

type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

const correctorPrompt = `You clean up policy documents captured from the web.
Return the text below with only minimal mechanical corrections applied: fix
encoding artifacts, stray markup fragments, and broken line wrapping.
Never rephrase, reorder, summarize, or drop content. Respond with ONLY the
corrected text, no prose around it.

=== CAPTURED TEXT ===
%s`

// LLMCorrector corrects through the model router.
type LLMCorrector struct {
	router model.ModelRouter
	model  string
}

func NewLLMCorrector(router model.ModelRouter, modelName string) *LLMCorrector {
	return &LLMCorrector{router: router, model: modelName}
}

func (c *LLMCorrector) Correct(ctx context.Context, text string) (string, error) {
	resp, err := c.router.Route(ctx, c.model, contract.CompletionRequest{
		Model: c.model,
		Messages: []contract.Message{
			{Role: "user", Content: fmt.Sprintf(correctorPrompt, text)},
		},
	})
	if err != nil {
		return "", kerrors.Wrap(err, "corrector query failed")
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", kerrors.InvalidModelOutput("empty corrector response")
	}
	return out, nil
}

// StubCorrector returns scripted corrections, for tests and offline
// mode. An empty Corrected echoes the input back.
type StubCorrector struct {
	Corrected string
	Err       error
	Calls     int
}

func (s *StubCorrector) Correct(ctx context.Context, text string) (string, error) {
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	if s.Corrected == "" {
		return text, nil
	}
	return s.Corrected, nil
}
