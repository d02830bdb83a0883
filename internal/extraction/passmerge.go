package extraction

// MergePasses combines the outputs of requestedPasses independent
// extraction runs over the same input into one result with per-entity
// confidence scores.
//
// Entities are grouped by (extraction_class, extraction_text); the
// merged entity keeps the attributes and offsets of its first
// occurrence and scores occurrences/requestedPasses. When the
// orchestrator stopped early, requestedPasses must be the number of
// passes actually executed so denominators stay honest.
//
// With a single pass the entities are returned as-is and no confidence
// score is attached.
func MergePasses(passResults []Result, requestedPasses int) Result {
	if len(passResults) == 0 {
		return Result{Entities: []Entity{}}
	}
	if requestedPasses <= 1 || len(passResults) == 1 {
		merged := passResults[0]
		if merged.Entities == nil {
			merged.Entities = []Entity{}
		}
		return merged
	}

	type group struct {
		first Entity
		count int
	}

	var order []entityKey
	groups := make(map[entityKey]*group)

	for _, pass := range passResults {
		seen := make(map[entityKey]struct{})
		for _, e := range pass.Entities {
			k := keyOf(e)
			// Duplicate entities within one pass count once.
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}

			if g, ok := groups[k]; ok {
				g.count++
			} else {
				groups[k] = &group{first: e, count: 1}
				order = append(order, k)
			}
		}
	}

	merged := Result{
		Entities: make([]Entity, 0, len(order)),
		Metadata: passResults[0].Metadata,
	}
	merged.Metadata.TokensUsed = sumTokens(passResults)

	for _, k := range order {
		g := groups[k]
		e := g.first
		score := float64(g.count) / float64(requestedPasses)
		e.ConfidenceScore = &score
		merged.Entities = append(merged.Entities, e)
	}
	return merged
}

// SameEntitySet reports whether two pass outputs contain exactly the
// same set of (extraction_class, extraction_text) pairs. The
// orchestrator uses this to stop issuing further passes once output
// has stabilised.
func SameEntitySet(a, b Result) bool {
	setA := make(map[entityKey]struct{}, len(a.Entities))
	for _, e := range a.Entities {
		setA[keyOf(e)] = struct{}{}
	}
	setB := make(map[entityKey]struct{}, len(b.Entities))
	for _, e := range b.Entities {
		setB[keyOf(e)] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for k := range setA {
		if _, ok := setB[k]; !ok {
			return false
		}
	}
	return true
}

func sumTokens(results []Result) *int {
	total := 0
	found := false
	for _, r := range results {
		if r.Metadata.TokensUsed != nil {
			total += *r.Metadata.TokensUsed
			found = true
		}
	}
	if !found {
		return nil
	}
	return &total
}
