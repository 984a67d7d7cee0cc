package adjudicate

import (
	"strings"

	"tribunal/internal/schema"
)

// collapseThreshold is the rationale similarity at or above which two
// opinions with identical scores count as one voice.
const collapseThreshold = 0.9

// collapsed reports whether two opinions are indistinguishable: the scores
// are identical and the rationales share at least collapseThreshold of their
// vocabulary. Different scores are genuine disagreement no matter how the
// rationales read.
func collapsed(a, b schema.Opinion) bool {
	if a.Score != b.Score {
		return false
	}
	return jaccard(wordSet(a.Rationale), wordSet(b.Rationale)) >= collapseThreshold
}

// wordSet lowercases and splits text into its unique words.
func wordSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,;:!?\"'()")] = true
	}
	delete(set, "")
	return set
}

// jaccard computes |a∩b| / |a∪b|. Two empty sets are identical.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
