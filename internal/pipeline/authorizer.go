package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/evidence"
	"github.com/harunnryd/kanshi/internal/logger"
	"github.com/harunnryd/kanshi/internal/policy"
	"github.com/harunnryd/kanshi/internal/snapshot"
	"github.com/harunnryd/kanshi/internal/source"
)

// Decision is the authorizer's verdict on a monitor capture. Rejection
// is a normal outcome, not an error.
type Decision struct {
	Accepted     bool                 `json:"accepted"`
	Confidence   float64              `json:"confidence"`
	Reasons      []string             `json:"reasons,omitempty"`
	EvidenceRefs []evidence.Reference `json:"evidence_refs,omitempty"`
}

// Authorizer independently confirms a monitor capture before it can
// reach comparison. It re-fetches the source and re-queries evidence;
// nothing cached by the monitor stage is trusted.
type Authorizer struct {
	Policy          *policy.Policy
	Source          source.Source
	Snapshots       *snapshot.Store
	Validator       evidence.Validator
	MinConfidence   float64
	FreshnessWindow time.Duration
}

// Run re-fetches and re-validates, then writes exactly one
// authorize-stage snapshot carrying the decision. The snapshot carries
// the monitor's candidate text, which the re-fetch confirmed.
func (a *Authorizer) Run(ctx context.Context, monitorSnap *snapshot.Record) (*snapshot.Record, *Decision, error) {
	runID := logger.GetRunID(ctx)

	text, err := a.Source.Fetch(ctx)
	if err != nil {
		return nil, nil, kerrors.Wrap(err, "authorizer fetch failed")
	}

	decision := a.decide(ctx, monitorSnap, text)

	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return nil, nil, err
	}

	rec, err := a.Snapshots.Put(snapshot.Record{
		OwnerKey: a.Policy.OwnerKey,
		Stage:    snapshot.StageAuthorize,
		RawText:  monitorSnap.RawText,
		Metadata: map[string]string{
			"source_url":          a.Policy.SourceURL,
			"monitor_snapshot_id": monitorSnap.ID,
			"accepted":            strconv.FormatBool(decision.Accepted),
			"decision":            string(decisionJSON),
		},
	})
	if err != nil {
		return nil, nil, kerrors.Wrap(err, "authorize snapshot failed")
	}

	slog.Info("Authorization decided",
		"policy", a.Policy.OwnerKey,
		"snapshot", rec.ID,
		"accepted", decision.Accepted,
		"reasons", decision.Reasons,
		"run_id", runID,
	)

	return rec, decision, nil
}

func (a *Authorizer) decide(ctx context.Context, monitorSnap *snapshot.Record, text string) *Decision {
	decision := &Decision{}

	if snapshot.HashContent(text) != fetchedHash(monitorSnap) {
		decision.Reasons = append(decision.Reasons,
			"source content changed between monitoring and authorization")
	}

	if a.Validator != nil {
		a.checkEvidence(ctx, decision)
	}

	decision.Accepted = len(decision.Reasons) == 0
	return decision
}

// fetchedHash is the hash of what the monitor actually fetched. It
// differs from the snapshot's content hash when a correction was
// applied to produce the candidate.
func fetchedHash(monitorSnap *snapshot.Record) string {
	if h, ok := monitorSnap.Metadata["fetched_hash"]; ok {
		return h
	}
	return monitorSnap.ContentHash
}

func (a *Authorizer) checkEvidence(ctx context.Context, decision *Decision) {
	claim := fmt.Sprintf("The document %q published at %s has been legitimately updated by its owner.",
		a.Policy.Name, a.Policy.SourceURL)

	result, err := a.Validator.Query(ctx, claim)
	if err != nil {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("evidence unavailable: %v", err))
		return
	}

	decision.Confidence = result.Confidence
	decision.EvidenceRefs = result.References

	if !result.Supports {
		decision.Reasons = append(decision.Reasons, "evidence contradicts the update")
	}

	threshold := a.MinConfidence
	if a.Policy.MinConfidence > 0 {
		threshold = a.Policy.MinConfidence
	}
	if result.Confidence < threshold {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("confidence %.2f below threshold %.2f", result.Confidence, threshold))
	}

	if a.FreshnessWindow > 0 {
		cutoff := time.Now().Add(-a.FreshnessWindow)
		for _, ref := range result.References {
			if ref.RetrievedAt.Before(cutoff) {
				decision.Reasons = append(decision.Reasons,
					fmt.Sprintf("reference %s is stale", ref.URL))
				break
			}
		}
	}
}
