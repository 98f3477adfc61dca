package validation

import (
	"encoding/json"
	"errors"

	"github.com/rendis/flowmap/pkg/schema"
)

// MapValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (item ids, enums, relationship endpoints, duration text)
// 3. DAG (self-loops, cycles, reachability from triggers)
type MapValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewMapValidator creates a MapValidator.
func NewMapValidator() (*MapValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &MapValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (mv *MapValidator) Validate(m *schema.WorkflowMap) *schema.ValidationResult {
	if m == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow map is nil")
		return r
	}

	result := structuralResult(mv.jsonSchema.ValidateMap(m))
	if !result.Valid() {
		return result
	}
	return mv.validateContent(m, result)
}

// ValidateMap satisfies the Validator interface.
func (mv *MapValidator) ValidateMap(m *schema.WorkflowMap) error {
	return mv.Validate(m).ToError()
}

// Decode validates a raw JSON document and decodes it into a WorkflowMap.
// The returned map is nil when the document is structurally invalid.
func (mv *MapValidator) Decode(raw []byte) (*schema.WorkflowMap, *schema.ValidationResult) {
	result := structuralResult(mv.jsonSchema.ValidateDocument(raw))
	if !result.Valid() {
		return nil, result
	}

	var m schema.WorkflowMap
	if err := json.Unmarshal(raw, &m); err != nil {
		result.AddError("/", schema.ErrCodeValidation, "decode workflow map: "+err.Error())
		return nil, result
	}
	return &m, mv.validateContent(&m, result)
}

// validateContent runs the semantic and DAG stages. The DAG stage is skipped
// when the semantic stage found errors, since the graph may be malformed.
func (mv *MapValidator) validateContent(m *schema.WorkflowMap, result *schema.ValidationResult) *schema.ValidationResult {
	result.Merge(validateSemantic(m))
	if result.Valid() {
		result.Merge(validateDAG(m))
	}
	return result
}

// structuralResult converts the error returned by the JSON Schema stage into
// a ValidationResult.
func structuralResult(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	var fe *schema.FlowmapError
	if !errors.As(err, &fe) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := fe.Details["violations"].([]schema.ValidationIssue); ok {
		result.Errors = append(result.Errors, violations...)
		return result
	}
	result.AddError("/", fe.Code, fe.Message)
	return result
}
