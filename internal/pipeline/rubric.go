package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/harunnryd/kanshi/internal/classifier"
	"github.com/harunnryd/kanshi/internal/config"
)

// Rubric assigns a criticality to a detected change from keyword and
// quantitative signals alone, with no model involved.
type Rubric struct {
	Mandatory      []string
	Penalty        []string
	Wording        []string
	QuantHighRatio float64
}

func DefaultRubric() Rubric {
	return Rubric{
		Mandatory:      config.DefaultMandatoryKeywords,
		Penalty:        config.DefaultPenaltyKeywords,
		Wording:        config.DefaultWordingKeywords,
		QuantHighRatio: config.DefaultCompareQuantHighRatio,
	}
}

func RubricFromConfig(cfg config.CompareConfig) Rubric {
	r := DefaultRubric()
	if len(cfg.MandatoryKeywords) > 0 {
		r.Mandatory = cfg.MandatoryKeywords
	}
	if len(cfg.PenaltyKeywords) > 0 {
		r.Penalty = cfg.PenaltyKeywords
	}
	if len(cfg.WordingKeywords) > 0 {
		r.Wording = cfg.WordingKeywords
	}
	if cfg.QuantHighRatio > 0 {
		r.QuantHighRatio = cfg.QuantHighRatio
	}
	return r
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Classify rates one change. Penalty language dominates, then mandatory
// language, then quantitative shifts scaled by magnitude, then wording
// markers. Anything else is a plain medium-weight edit.
//
// Keyword rules fire on language the change introduces; a "must" that
// was already in the old paragraph says nothing about the edit. A
// removal is judged by what it strips out.
func (r Rubric) Classify(changeType ChangeType, oldText, newText string) string {
	oldLower := strings.ToLower(oldText)
	newLower := strings.ToLower(newText)

	hit := func(words []string) bool {
		if changeType == ChangeRemove {
			return containsAnyWord(oldLower, words)
		}
		return introducesAnyWord(oldLower, newLower, words)
	}

	if hit(r.Penalty) {
		return classifier.CriticalityCritical
	}
	if hit(r.Mandatory) {
		return classifier.CriticalityHigh
	}

	if changeType == ChangeModify {
		if level, ok := r.quantLevel(oldText, newText); ok {
			return level
		}
	}

	if containsAnyWord(oldLower+" "+newLower, r.Wording) {
		return classifier.CriticalityLow
	}

	return classifier.CriticalityMedium
}

// quantLevel detects a numeric threshold moving between versions. Small
// shifts rate medium; a relative change at or past QuantHighRatio rates
// high.
func (r Rubric) quantLevel(oldText, newText string) (string, bool) {
	oldNums := extractNumbers(oldText)
	newNums := extractNumbers(newText)
	if len(oldNums) == 0 || len(newNums) == 0 {
		return "", false
	}

	maxRatio := -1.0
	for i := 0; i < len(oldNums) && i < len(newNums); i++ {
		if oldNums[i] == newNums[i] {
			continue
		}
		base := oldNums[i]
		if base < 0 {
			base = -base
		}
		if base == 0 {
			base = 1
		}
		diff := newNums[i] - oldNums[i]
		if diff < 0 {
			diff = -diff
		}
		if ratio := diff / base; ratio > maxRatio {
			maxRatio = ratio
		}
	}

	if maxRatio < 0 {
		return "", false
	}
	if maxRatio >= r.QuantHighRatio {
		return classifier.CriticalityHigh, true
	}
	return classifier.CriticalityMedium, true
}

func extractNumbers(text string) []float64 {
	matches := numberPattern.FindAllString(text, -1)
	nums := make([]float64, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.ParseFloat(m, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// introducesAnyWord reports whether any of the words appears in the
// new text without already appearing in the old.
func introducesAnyWord(oldLower, newLower string, words []string) bool {
	for _, w := range words {
		if w == "" {
			continue
		}
		lw := strings.ToLower(w)
		if containsWord(newLower, lw) && !containsWord(oldLower, lw) {
			return true
		}
	}
	return false
}

func containsAnyWord(haystack string, words []string) bool {
	for _, w := range words {
		if w == "" {
			continue
		}
		if containsWord(haystack, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// containsWord matches on word boundaries so "must" does not fire on
// "mustard".
func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
