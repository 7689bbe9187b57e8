// Package evidence checks claims about a watched document against an
// independent model-backed validator. Monitor and authorizer each run
// their own queries; results are never shared between stages.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/logger"
	"github.com/harunnryd/kanshi/internal/model"
	"github.com/harunnryd/kanshi/internal/model/contract"
)

// Reference is one piece of supporting material for a verdict.
type Reference struct {
	URL         string    `json:"url"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Result is the validator's verdict on a claim.
type Result struct {
	Supports   bool        `json:"supports"`
	Confidence float64     `json:"confidence"`
	References []Reference `json:"references,omitempty"`
}

// Validator answers whether current evidence supports a claim.
type Validator interface {
	Query(ctx context.Context, claim string) (*Result, error)
}

const validatorPrompt = `You verify claims about policy documents against current public information.
Respond with ONLY a JSON object, no prose, in this exact shape:
{"supports": true|false, "confidence": 0.0-1.0, "references": [{"url": "..."}]}

Claim to verify:
%s`

// ModelValidator queries the model router for a verdict.
type ModelValidator struct {
	router       model.ModelRouter
	model        string
	queryTimeout time.Duration
}

func NewModelValidator(router model.ModelRouter, modelName string, queryTimeout time.Duration) *ModelValidator {
	return &ModelValidator{
		router:       router,
		model:        modelName,
		queryTimeout: queryTimeout,
	}
}

func (v *ModelValidator) Query(ctx context.Context, claim string) (*Result, error) {
	runID := logger.GetRunID(ctx)

	queryCtx := ctx
	if v.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, v.queryTimeout)
		defer cancel()
	}

	resp, err := v.router.Route(queryCtx, v.model, contract.CompletionRequest{
		Model: v.model,
		Messages: []contract.Message{
			{Role: "user", Content: fmt.Sprintf(validatorPrompt, claim)},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, kerrors.Transient(fmt.Sprintf("evidence query timed out after %v", v.queryTimeout))
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("evidence query failed: %v: %w", err, kerrors.ErrEvidenceUnavailable)
	}

	result, err := parseVerdict(resp.Content)
	if err != nil {
		slog.Warn("Evidence validator returned unparseable verdict", "error", err, "run_id", runID)
		return nil, fmt.Errorf("%v: %w", err, kerrors.ErrEvidenceUnavailable)
	}

	return result, nil
}

func parseVerdict(content string) (*Result, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, kerrors.InvalidModelOutput("no JSON object in validator response")
	}

	var verdict struct {
		Supports   bool    `json:"supports"`
		Confidence float64 `json:"confidence"`
		References []struct {
			URL string `json:"url"`
		} `json:"references"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, kerrors.InvalidModelOutput(fmt.Sprintf("malformed validator response: %v", err))
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, kerrors.InvalidModelOutput(fmt.Sprintf("confidence %v out of range", verdict.Confidence))
	}

	result := &Result{
		Supports:   verdict.Supports,
		Confidence: verdict.Confidence,
	}
	now := time.Now().UTC()
	for _, ref := range verdict.References {
		if ref.URL == "" {
			continue
		}
		result.References = append(result.References, Reference{URL: ref.URL, RetrievedAt: now})
	}

	return result, nil
}

// extractJSON pulls the first top-level JSON object out of model output
// that may be wrapped in code fences or prose.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}

// StubValidator returns scripted results, for tests and offline mode.
type StubValidator struct {
	Result *Result
	Err    error

	// Queries records every claim seen, in order.
	Queries []string
}

func (s *StubValidator) Query(ctx context.Context, claim string) (*Result, error) {
	s.Queries = append(s.Queries, claim)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &Result{Supports: true, Confidence: 1}, nil
	}
	out := *s.Result
	return &out, nil
}
