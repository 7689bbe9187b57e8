package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/harunnryd/kanshi/internal/corrector"
	kerrors "github.com/harunnryd/kanshi/internal/errors"
	"github.com/harunnryd/kanshi/internal/evidence"
	"github.com/harunnryd/kanshi/internal/logger"
	"github.com/harunnryd/kanshi/internal/policy"
	"github.com/harunnryd/kanshi/internal/snapshot"
	"github.com/harunnryd/kanshi/internal/source"
)

// Monitor captures the current source text as a monitor-stage snapshot.
// The corrector, when present, cleans up capture artifacts to produce
// the candidate. The monitor refuses candidates that have drifted
// implausibly far from baseline and annotates the snapshot with an
// evidence verdict when one can be had.
type Monitor struct {
	Policy       *policy.Policy
	Source       source.Source
	Snapshots    *snapshot.Store
	Validator    evidence.Validator
	Corrector    corrector.Corrector
	MaxQueries   int
	DriftCeiling float64
}

// Run fetches the source, derives the minimally corrected candidate,
// checks drift against the baseline, and writes exactly one snapshot.
// Evidence unavailability is recorded on the snapshot and never fails
// the run.
func (m *Monitor) Run(ctx context.Context, baselineText string) (*snapshot.Record, error) {
	runID := logger.GetRunID(ctx)

	fetched, err := m.Source.Fetch(ctx)
	if err != nil {
		return nil, kerrors.Wrap(err, "monitor fetch failed")
	}

	metadata := map[string]string{
		"source_url": m.Policy.SourceURL,
	}

	text := m.correct(ctx, fetched, metadata)

	changed := snapshot.HashContent(text) != snapshot.HashContent(baselineText)

	if baselineText != "" && changed {
		ratio := driftRatio(baselineText, text)
		metadata["drift_ratio"] = strconv.FormatFloat(ratio, 'f', 4, 64)

		ceiling := m.ceiling()
		if ratio > ceiling {
			return nil, fmt.Errorf("candidate drift %.2f exceeds ceiling %.2f: %w",
				ratio, ceiling, kerrors.ErrExcessiveDrift)
		}
	}

	if changed && m.Validator != nil {
		verdict := m.queryEvidence(ctx)
		if verdict == nil {
			metadata["evidence_unavailable"] = "true"
		} else {
			metadata["evidence_supports"] = strconv.FormatBool(verdict.Supports)
			metadata["evidence_confidence"] = strconv.FormatFloat(verdict.Confidence, 'f', 2, 64)
		}
	}

	rec, err := m.Snapshots.Put(snapshot.Record{
		OwnerKey: m.Policy.OwnerKey,
		Stage:    snapshot.StageMonitor,
		RawText:  text,
		Metadata: metadata,
	})
	if err != nil {
		return nil, kerrors.Wrap(err, "monitor snapshot failed")
	}

	slog.Info("Monitor captured snapshot",
		"policy", m.Policy.OwnerKey,
		"snapshot", rec.ID,
		"changed", changed,
		"run_id", runID,
	)

	return rec, nil
}

// correct asks the corrector for a minimally cleaned-up candidate. A
// correction that fails, or that drifts too far from what was actually
// fetched, is discarded in favor of the raw capture.
func (m *Monitor) correct(ctx context.Context, fetched string, metadata map[string]string) string {
	if m.Corrector == nil {
		return fetched
	}
	runID := logger.GetRunID(ctx)

	corrected, err := m.Corrector.Correct(ctx, fetched)
	if err != nil {
		slog.Warn("Corrector unavailable, keeping raw capture",
			"policy", m.Policy.OwnerKey,
			"error", err,
			"run_id", runID,
		)
		return fetched
	}
	if corrected == fetched {
		return fetched
	}

	ratio := driftRatio(fetched, corrected)
	if ratio > m.ceiling() {
		slog.Warn("Correction drifted too far from capture, discarding",
			"policy", m.Policy.OwnerKey,
			"drift_ratio", ratio,
			"run_id", runID,
		)
		return fetched
	}

	metadata["corrected"] = "true"
	metadata["correction_drift"] = strconv.FormatFloat(ratio, 'f', 4, 64)
	// The authorizer re-fetches the raw source; it must verify against
	// what was fetched, not the corrected candidate.
	metadata["fetched_hash"] = snapshot.HashContent(fetched)
	return corrected
}

func (m *Monitor) ceiling() float64 {
	if m.Policy.DriftCeiling > 0 {
		return m.Policy.DriftCeiling
	}
	return m.DriftCeiling
}

// queryEvidence asks the validator up to MaxQueries times and keeps the
// best verdict. All-unavailable yields nil.
func (m *Monitor) queryEvidence(ctx context.Context) *evidence.Result {
	runID := logger.GetRunID(ctx)

	var best *evidence.Result
	for i, claim := range m.claims() {
		if i >= m.MaxQueries && m.MaxQueries > 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		result, err := m.Validator.Query(ctx, claim)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			slog.Warn("Evidence query failed during monitoring",
				"claim", claim,
				"error", err,
				"run_id", runID,
			)
			continue
		}

		if best == nil || result.Confidence > best.Confidence {
			best = result
		}
		if best.Supports && best.Confidence >= 1 {
			break
		}
	}

	return best
}

func (m *Monitor) claims() []string {
	return []string{
		fmt.Sprintf("The document %q published at %s has been updated recently.",
			m.Policy.Name, m.Policy.SourceURL),
		fmt.Sprintf("A new revision of %q is currently in effect.", m.Policy.Name),
		fmt.Sprintf("The publisher of %s announced changes to %q.",
			m.Policy.SourceURL, m.Policy.Name),
	}
}
