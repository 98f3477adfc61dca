package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/flowmap/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const mapSchemaURL = "https://flowmap.dev/schemas/workflow-map.json"

// mapSchemaJSON is the JSON Schema for WorkflowMap documents. Enum values and
// duration text are deliberately left open here; the semantic stage reports
// them with item-level paths.
const mapSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowmap.dev/schemas/workflow-map.json",
  "type": "object",
  "required": ["items"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "items": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/item" }
    },
    "relationships": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/relationship" }
    },
    "metadata": { "type": ["object", "null"] },
    "agent_id": { "type": "string" },
    "version": { "type": "integer", "minimum": 0 },
    "created_at": { "type": "string", "format": "date-time" },
    "updated_at": { "type": "string", "format": "date-time" }
  },
  "additionalProperties": false,
  "$defs": {
    "item": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string" },
        "label": { "type": "string" },
        "type": { "type": "string" },
        "stage": { "type": "string" },
        "department": { "type": "string" },
        "duration": { "type": "string" },
        "status": { "type": "string" },
        "progress": { "type": "integer", "minimum": 0, "maximum": 100 },
        "started_at": { "type": "string", "format": "date-time" },
        "completed_at": { "type": "string", "format": "date-time" },
        "metadata": { "type": ["object", "null"] }
      },
      "additionalProperties": false
    },
    "relationship": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string" },
        "target": { "type": "string" },
        "kind": { "type": "string" },
        "label": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the structure of map documents against the
// compiled map schema. It is safe for concurrent use.
type JSONSchemaValidator struct {
	mapSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the map schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(mapSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal map schema: %w", err)
	}
	if err := c.AddResource(mapSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add map schema resource: %w", err)
	}

	compiled, err := c.Compile(mapSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile map schema: %w", err)
	}

	return &JSONSchemaValidator{mapSchema: compiled}, nil
}

// ValidateMap checks an in-memory map by validating its JSON encoding.
func (v *JSONSchemaValidator) ValidateMap(m *schema.WorkflowMap) error {
	if m == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow map is nil")
	}

	b, err := json.Marshal(m)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow map").WithCause(err)
	}
	return v.ValidateDocument(b)
}

// ValidateDocument checks raw JSON as read from a file or a tool call. Unlike
// ValidateMap it also catches unknown keys and wrongly typed values that
// would be lost when decoding into a WorkflowMap.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "document is not valid JSON").WithCause(err)
	}

	if err := v.mapSchema.Validate(doc); err != nil {
		return toFlowmapError(err)
	}
	return nil
}

// toFlowmapError converts a jsonschema.ValidationError into a FlowmapError
// whose details list every leaf violation.
func toFlowmapError(err error) *schema.FlowmapError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	msg := violations[0].String()
	if len(violations) > 1 {
		msg = fmt.Sprintf("document failed schema validation with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and returns its leaves,
// located by the instance path of the offending value.
func collectViolations(verr *jsonschema.ValidationError) []schema.ValidationIssue {
	if len(verr.Causes) == 0 {
		return []schema.ValidationIssue{{
			Path:    instancePath(verr.InstanceLocation),
			Code:    schema.ErrCodeValidation,
			Message: verr.Error(),
			Level:   schema.IssueError,
		}}
	}

	var violations []schema.ValidationIssue
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

// instancePath renders a JSON pointer location as items[2].duration.
func instancePath(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, tok := range loc {
		if isIndex(tok) {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func isIndex(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
