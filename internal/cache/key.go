// Package cache stores extraction results under deterministic
// content-derived keys.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/IgnatG/langextract-api/internal/extraction"
)

// Documents longer than this are folded to their digest before keying
// so oversized inputs do not blow up the concatenation buffer.
const textHashThreshold = 50000

// KeyInput carries every request field that influences extraction
// output. Anything not listed here must not affect the key.
type KeyInput struct {
	Text               string
	Prompt             string
	Examples           []extraction.Example
	Model              string
	Providers          []string
	Temperature        float64
	Passes             int
	ConsensusThreshold float64
}

// Key derives the hex SHA-256 cache key for a request. The derivation
// is canonical: example order and provider order do not change the
// key, while any change to the text, prompt, examples, model set or
// tuning parameters does.
func Key(in KeyInput) string {
	components := []string{
		normalizeText(in.Text),
		in.Prompt,
		canonicalExamples(in.Examples),
		strings.Join(sortedProviders(in), ","),
		strconv.FormatFloat(in.Temperature, 'g', -1, 64),
		strconv.Itoa(in.Passes),
		strconv.FormatFloat(in.ConsensusThreshold, 'g', -1, 64),
	}

	h := sha256.Sum256([]byte(strings.Join(components, "\x00")))
	return hex.EncodeToString(h[:])
}

func normalizeText(text string) string {
	if len(text) <= textHashThreshold {
		return text
	}
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// canonicalExamples serializes the examples as an order-independent
// multiset. Each example is marshaled (json sorts map keys), then the
// serialized forms are sorted and joined.
func canonicalExamples(examples []extraction.Example) string {
	if len(examples) == 0 {
		return ""
	}
	serialized := make([]string, 0, len(examples))
	for _, ex := range examples {
		b, err := json.Marshal(ex)
		if err != nil {
			continue
		}
		serialized = append(serialized, string(b))
	}
	sort.Strings(serialized)
	return strings.Join(serialized, ",")
}

func sortedProviders(in KeyInput) []string {
	if len(in.Providers) == 0 {
		return []string{in.Model}
	}
	providers := make([]string, len(in.Providers))
	copy(providers, in.Providers)
	sort.Strings(providers)
	return providers
}
