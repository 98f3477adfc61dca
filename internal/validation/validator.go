package validation

import "github.com/rendis/flowmap/pkg/schema"

// Validator checks workflow map documents before they are stored or analyzed.
// Structure is checked with JSON Schema Draft 2020-12.
type Validator interface {
	Validate(m *schema.WorkflowMap) *schema.ValidationResult
	ValidateMap(m *schema.WorkflowMap) error
}
