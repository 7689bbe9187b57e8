package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/harunnryd/kanshi/internal/classifier"
	"github.com/harunnryd/kanshi/internal/logger"
)

type ChangeType string

const (
	ChangeAdd    ChangeType = "addition"
	ChangeRemove ChangeType = "removal"
	ChangeModify ChangeType = "modification"
)

// Change is one paragraph-level difference between baseline and candidate.
type Change struct {
	Type        ChangeType `json:"type"`
	Description string     `json:"description"`
	OldText     string     `json:"old_text,omitempty"`
	NewText     string     `json:"new_text,omitempty"`
	Criticality string     `json:"criticality"`
}

// ComparisonResult is the full outcome of comparing two versions.
type ComparisonResult struct {
	HasChanges  bool     `json:"has_changes"`
	Changes     []Change `json:"changes,omitempty"`
	Criticality string   `json:"criticality,omitempty"`
	Summary     string   `json:"summary"`

	// ClassifierSummary carries the model's one-line read when the
	// classifier ran and agreed a change happened.
	ClassifierSummary string `json:"classifier_summary,omitempty"`
}

// Comparer diffs baseline against candidate text. The rubric always
// runs; the classifier, when present, can only raise criticality.
type Comparer struct {
	rubric     Rubric
	classifier classifier.Classifier
}

func NewComparer(rubric Rubric, cls classifier.Classifier) *Comparer {
	return &Comparer{rubric: rubric, classifier: cls}
}

// Compare diffs the two texts. Identical or cosmetic-only versions
// produce HasChanges=false. Overall criticality is the maximum across
// detected changes, never an average.
func (c *Comparer) Compare(ctx context.Context, baselineText, candidateText string) (*ComparisonResult, error) {
	oldParas := splitParagraphs(baselineText)
	newParas := splitParagraphs(candidateText)

	changes := diffParagraphs(oldParas, newParas)
	if len(changes) == 0 {
		return &ComparisonResult{
			HasChanges: false,
			Summary:    "No substantive changes detected",
		}, nil
	}

	overall := ""
	for i := range changes {
		changes[i].Criticality = c.rubric.Classify(changes[i].Type, changes[i].OldText, changes[i].NewText)
		overall = classifier.MaxCriticality(overall, changes[i].Criticality)
	}

	result := &ComparisonResult{
		HasChanges:  true,
		Changes:     changes,
		Criticality: overall,
		Summary:     summarize(changes),
	}

	if c.classifier != nil {
		c.mergeClassifier(ctx, baselineText, candidateText, result)
	}

	return result, nil
}

// mergeClassifier lets the model raise but never lower the rubric's
// verdict. Classifier failure degrades to rubric-only.
func (c *Comparer) mergeClassifier(ctx context.Context, oldText, newText string, result *ComparisonResult) {
	verdict, err := c.classifier.Classify(ctx, oldText, newText)
	if err != nil {
		slog.Warn("Classifier unavailable, keeping rubric verdict",
			"error", err,
			"run_id", logger.GetRunID(ctx),
		)
		return
	}

	if !verdict.HasChange {
		return
	}

	result.Criticality = classifier.MaxCriticality(result.Criticality, verdict.Criticality)
	result.ClassifierSummary = verdict.Summary
}

func summarize(changes []Change) string {
	var adds, removes, modifies int
	for _, ch := range changes {
		switch ch.Type {
		case ChangeAdd:
			adds++
		case ChangeRemove:
			removes++
		case ChangeModify:
			modifies++
		}
	}
	return fmt.Sprintf("Detected %d changes: %d additions, %d removals, %d modifications",
		len(changes), adds, removes, modifies)
}

// splitParagraphs breaks text into paragraphs on blank lines after
// normalizing line endings. Empty paragraphs are dropped.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var paras []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paras = append(paras, block)
		}
	}
	return paras
}

// normalizePara lowercases, drops punctuation, and collapses runs of
// whitespace so cosmetic edits compare equal. A decimal point between
// digits is content, not punctuation.
func normalizePara(p string) string {
	runes := []rune(strings.ToLower(p))
	var b strings.Builder
	b.Grow(len(p))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

const excerptLimit = 120

func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= excerptLimit {
		return text
	}
	return text[:excerptLimit] + "..."
}

// diffParagraphs aligns the two paragraph sequences by longest common
// subsequence of normalized paragraphs. Within a replaced block, old and
// new paragraphs pair up as modifications; the overhang becomes plain
// removals or additions.
func diffParagraphs(oldParas, newParas []string) []Change {
	oldNorm := make([]string, len(oldParas))
	for i, p := range oldParas {
		oldNorm[i] = normalizePara(p)
	}
	newNorm := make([]string, len(newParas))
	for i, p := range newParas {
		newNorm[i] = normalizePara(p)
	}

	n, m := len(oldNorm), len(newNorm)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldNorm[i] == newNorm[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var changes []Change
	i, j := 0, 0
	for i < n || j < m {
		if i < n && j < m && oldNorm[i] == newNorm[j] {
			i++
			j++
			continue
		}

		// Collect the maximal non-matching block on both sides.
		var removed, added []string
		for i < n || j < m {
			if i < n && j < m && oldNorm[i] == newNorm[j] {
				break
			}
			if j >= m || (i < n && lcs[i+1][j] >= lcs[i][j+1]) {
				removed = append(removed, oldParas[i])
				i++
			} else {
				added = append(added, newParas[j])
				j++
			}
		}

		changes = append(changes, pairBlock(removed, added)...)
	}

	return changes
}

// pairBlock turns a contiguous removed/added block into changes.
func pairBlock(removed, added []string) []Change {
	var changes []Change
	k := 0
	for ; k < len(removed) && k < len(added); k++ {
		changes = append(changes, Change{
			Type:        ChangeModify,
			Description: fmt.Sprintf("Modified: %s", excerpt(added[k])),
			OldText:     removed[k],
			NewText:     added[k],
		})
	}
	for ; k < len(removed); k++ {
		changes = append(changes, Change{
			Type:        ChangeRemove,
			Description: fmt.Sprintf("Removed: %s", excerpt(removed[k])),
			OldText:     removed[k],
		})
	}
	for k = len(removed); k < len(added); k++ {
		changes = append(changes, Change{
			Type:        ChangeAdd,
			Description: fmt.Sprintf("Added: %s", excerpt(added[k])),
			NewText:     added[k],
		})
	}
	return changes
}
