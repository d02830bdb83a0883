package provider

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// responseSchema constrains what the model may return. Offsets and
// confidence are never accepted from the model; the pipeline computes
// those itself.
const responseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["entities"],
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["extraction_class", "extraction_text"],
        "properties": {
          "extraction_class": {"type": "string", "minLength": 1},
          "extraction_text": {"type": "string", "minLength": 1},
          "attributes": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(responseSchema)

// validateResponse checks the raw model output against the response
// schema before it is parsed.
func validateResponse(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		first := result.Errors()
		if len(first) > 0 {
			return fmt.Errorf("model output violates schema: %s", first[0].String())
		}
		return fmt.Errorf("model output violates schema")
	}
	return nil
}
