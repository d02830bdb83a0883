package extraction

import (
	"fmt"
	"strings"

	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
)

// ConsensusLabel formats the provider label used when consensus mode
// ran, e.g. "consensus(gpt-4o, gemini-2.5-flash)".
func ConsensusLabel(providers []string) string {
	return fmt.Sprintf("consensus(%s)", strings.Join(providers, ", "))
}

// MergeConsensus reduces per-provider results to the entities the
// providers agree on.
//
// The first provider's entities seed the candidate set. A candidate is
// retained only if every other provider produced some entity of the
// same extraction_class whose text reaches Similarity >= threshold.
// Retained entities keep the seed provider's text, attributes and
// offsets; confidence scores, where present, are averaged across the
// agreeing copies.
//
// results must be ordered the same as providers. Fewer than two
// results is a configuration error.
func MergeConsensus(providers []string, results []Result, threshold float64) (Result, error) {
	if len(results) < 2 {
		return Result{}, apperrors.NewConsensusConfigError(
			fmt.Sprintf("consensus requires at least 2 provider results, got %d", len(results)))
	}

	seed := results[0]
	others := results[1:]

	merged := Result{
		Entities: make([]Entity, 0, len(seed.Entities)),
		Metadata: Metadata{
			Provider:   ConsensusLabel(providers),
			TokensUsed: sumTokens(results),
		},
	}

	for _, candidate := range seed.Entities {
		agreeing := []Entity{candidate}
		retained := true

		for _, other := range others {
			match, ok := bestMatch(candidate, other.Entities, threshold)
			if !ok {
				retained = false
				break
			}
			agreeing = append(agreeing, match)
		}
		if !retained {
			continue
		}

		e := candidate
		if avg, ok := averageConfidence(agreeing); ok {
			e.ConfidenceScore = &avg
		}
		merged.Entities = append(merged.Entities, e)
	}

	return merged, nil
}

// bestMatch finds the same-class entity in candidates with the highest
// text similarity to target, provided it reaches the threshold.
func bestMatch(target Entity, candidates []Entity, threshold float64) (Entity, bool) {
	var best Entity
	bestScore := -1.0
	for _, c := range candidates {
		if c.ExtractionClass != target.ExtractionClass {
			continue
		}
		if s := Similarity(target.ExtractionText, c.ExtractionText); s > bestScore {
			bestScore = s
			best = c
		}
	}
	if bestScore >= threshold {
		return best, true
	}
	return Entity{}, false
}

func averageConfidence(entities []Entity) (float64, bool) {
	sum := 0.0
	n := 0
	for _, e := range entities {
		if e.ConfidenceScore != nil {
			sum += *e.ConfidenceScore
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
