// Package classifier asks a model whether two versions of a policy
// differ in substance and how severe the difference is.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/logger"
	"github.com/harunnryd/kanshi/internal/model"
	"github.com/harunnryd/kanshi/internal/model/contract"
)

// Criticality levels, lowest to highest.
const (
	CriticalityLow      = "low"
	CriticalityMedium   = "medium"
	CriticalityHigh     = "high"
	CriticalityCritical = "critical"
)

var criticalityRank = map[string]int{
	CriticalityLow:      0,
	CriticalityMedium:   1,
	CriticalityHigh:     2,
	CriticalityCritical: 3,
}

// MaxCriticality returns the more severe of two levels. Unknown levels
// rank below low.
func MaxCriticality(a, b string) string {
	if criticalityRank[b] > criticalityRank[a] {
		return b
	}
	if _, ok := criticalityRank[a]; !ok {
		if _, ok := criticalityRank[b]; ok {
			return b
		}
		return CriticalityLow
	}
	return a
}

// ValidCriticality reports whether the level is one of the four known ones.
func ValidCriticality(level string) bool {
	_, ok := criticalityRank[level]
	return ok
}

// Verdict is the classifier's assessment of a version pair.
type Verdict struct {
	HasChange   bool   `json:"has_change"`
	Summary     string `json:"summary"`
	Criticality string `json:"criticality"`
}

type Classifier interface {
	Classify(ctx context.Context, oldText, newText string) (*Verdict, error)
}

const classifierPrompt = `You review policy documents for substantive changes.
Compare the two versions below and respond with ONLY a JSON object, no prose:
{"has_change": true|false, "summary": "one sentence", "criticality": "low"|"medium"|"high"|"critical"}

Cosmetic edits (whitespace, capitalization, typos) are not changes.

=== PREVIOUS VERSION ===
%s

=== CURRENT VERSION ===
%s`

// LLMClassifier classifies through the model router. A malformed model
// response is retried once; a second failure surfaces the error so the
// caller can fall back to its keyword rubric.
type LLMClassifier struct {
	router model.ModelRouter
	model  string
}

func NewLLMClassifier(router model.ModelRouter, modelName string) *LLMClassifier {
	return &LLMClassifier{router: router, model: modelName}
}

func (c *LLMClassifier) Classify(ctx context.Context, oldText, newText string) (*Verdict, error) {
	runID := logger.GetRunID(ctx)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		verdict, err := c.classifyOnce(ctx, oldText, newText)
		if err == nil {
			return verdict, nil
		}
		if !errors.Is(err, kerrors.ErrInvalidModelOutput) {
			return nil, err
		}

		lastErr = err
		slog.Warn("Classifier returned invalid output, retrying once",
			"attempt", attempt+1,
			"error", err,
			"run_id", runID,
		)
	}

	return nil, lastErr
}

func (c *LLMClassifier) classifyOnce(ctx context.Context, oldText, newText string) (*Verdict, error) {
	resp, err := c.router.Route(ctx, c.model, contract.CompletionRequest{
		Model: c.model,
		Messages: []contract.Message{
			{Role: "user", Content: fmt.Sprintf(classifierPrompt, oldText, newText)},
		},
	})
	if err != nil {
		return nil, kerrors.Wrap(err, "classifier query failed")
	}

	return parseVerdict(resp.Content)
}

func parseVerdict(content string) (*Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, kerrors.InvalidModelOutput("no JSON object in classifier response")
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return nil, kerrors.InvalidModelOutput(fmt.Sprintf("malformed classifier response: %v", err))
	}

	if verdict.HasChange && !ValidCriticality(verdict.Criticality) {
		return nil, kerrors.InvalidModelOutput(fmt.Sprintf("unknown criticality %q", verdict.Criticality))
	}
	if !verdict.HasChange {
		verdict.Criticality = ""
		verdict.Summary = ""
	}

	return &verdict, nil
}

// StubClassifier returns scripted verdicts, for tests.
type StubClassifier struct {
	Verdict *Verdict
	Err     error
	Calls   int
}

func (s *StubClassifier) Classify(ctx context.Context, oldText, newText string) (*Verdict, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Verdict == nil {
		return &Verdict{HasChange: false}, nil
	}
	out := *s.Verdict
	return &out, nil
}
