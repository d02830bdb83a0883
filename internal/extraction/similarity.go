package extraction

import "strings"

// wordSet splits text into a set of lower-cased word tokens.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// Similarity computes the Jaccard index over the word-token sets of
// two texts. Returns 1.0 when both are empty and 0.0 when exactly one
// is empty. Pure and deterministic.
func Similarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1.0
	}

	intersection := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
