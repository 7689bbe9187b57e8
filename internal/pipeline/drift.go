package pipeline

import "strings"

// driftRatio measures how far the candidate text has moved from the
// baseline as normalized Levenshtein distance over words, in [0,1].
// 0 means identical after normalization, 1 means nothing in common.
func driftRatio(baseline, candidate string) float64 {
	a := strings.Fields(strings.ToLower(baseline))
	b := strings.Fields(strings.ToLower(candidate))

	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}

	return float64(levenshtein(a, b)) / float64(longest)
}

// levenshtein computes edit distance over word slices with two rows.
func levenshtein(a, b []string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
