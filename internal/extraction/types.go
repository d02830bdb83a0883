// Package extraction defines the entity model shared across the
// extraction pipeline, plus the pass-merge and consensus-merge
// algorithms that combine multiple extraction runs into one result.
package extraction

// Entity is one extracted item. ExtractionText is a verbatim substring
// of the source document; offsets are optional because chunked
// extraction may not preserve them.
type Entity struct {
	ExtractionClass string            `json:"extraction_class"`
	ExtractionText  string            `json:"extraction_text"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	CharStart       *int              `json:"char_start,omitempty"`
	CharEnd         *int              `json:"char_end,omitempty"`
	// ConfidenceScore is the fraction of passes in which the entity
	// appeared. Only set when more than one pass executed.
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}

// Metadata describes how a Result was produced.
type Metadata struct {
	Provider         string `json:"provider"`
	TokensUsed       *int   `json:"tokens_used"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	CacheHit         bool   `json:"cache_hit"`
}

// Result is the outcome of one extraction (single pass, pass-merged,
// or consensus-merged).
type Result struct {
	Entities []Entity `json:"entities"`
	Metadata Metadata `json:"metadata"`
}

// Example is one few-shot example handed to the extraction provider.
type Example struct {
	Text        string          `json:"text"`
	Extractions []ExampleEntity `json:"extractions"`
}

// ExampleEntity is one labelled extraction inside an Example.
type ExampleEntity struct {
	ExtractionClass string            `json:"extraction_class"`
	ExtractionText  string            `json:"extraction_text"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// entityKey identifies an entity across passes. Offsets are excluded
// because they shift trivially between runs.
type entityKey struct {
	class string
	text  string
}

func keyOf(e Entity) entityKey {
	return entityKey{class: e.ExtractionClass, text: e.ExtractionText}
}
