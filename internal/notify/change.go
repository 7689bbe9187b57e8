package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/harunnryd/kanshi/internal/pipeline"
)

// PolicyChange is an immutable description of one accepted, compared
// difference. It is created only when comparison found real changes and
// is the unit that notifications are deduplicated against.
type PolicyChange struct {
	ID              string            `json:"id"`
	PolicyName      string            `json:"policy_name"`
	ChangeSummary   string            `json:"change_summary"`
	Criticality     string            `json:"criticality"`
	OldContent      string            `json:"old_content,omitempty"`
	NewContent      string            `json:"new_content,omitempty"`
	DetectedChanges []pipeline.Change `json:"detected_changes,omitempty"`
	ChangeTimestamp time.Time         `json:"change_timestamp"`
	DocURL          string            `json:"doc_url,omitempty"`
	SourceURL       string            `json:"source_url,omitempty"`
}

// NewPolicyChange builds a change from a comparison result. The
// classifier's one-liner, when present, makes a better summary than the
// count line.
func NewPolicyChange(policyName, docURL, sourceURL, oldContent, newContent string, result *pipeline.ComparisonResult) *PolicyChange {
	summary := result.Summary
	if result.ClassifierSummary != "" {
		summary = result.ClassifierSummary
	}

	return &PolicyChange{
		ID:              changeID(policyName, oldContent, newContent),
		PolicyName:      policyName,
		ChangeSummary:   summary,
		Criticality:     result.Criticality,
		OldContent:      oldContent,
		NewContent:      newContent,
		DetectedChanges: result.Changes,
		ChangeTimestamp: time.Now().UTC(),
		DocURL:          docURL,
		SourceURL:       sourceURL,
	}
}

// changeID is deterministic over the policy and the exact text pair.
// A rerun that re-detects the same difference, such as a retry after a
// failed sync, produces the same ID and dedups against the delivery
// history instead of mailing everyone again.
func changeID(policyName, oldContent, newContent string) string {
	h := sha256.New()
	h.Write([]byte(policyName))
	h.Write([]byte{0})
	h.Write([]byte(oldContent))
	h.Write([]byte{0})
	h.Write([]byte(newContent))
	return hex.EncodeToString(h.Sum(nil))
}
