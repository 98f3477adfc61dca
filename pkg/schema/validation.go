package schema

import "fmt"

// IssueLevel indicates whether a validation issue blocks the document.
type IssueLevel string

const (
	IssueError   IssueLevel = "error"
	IssueWarning IssueLevel = "warning"
)

// ValidationIssue is a single problem found in a map document, located by a
// path such as "items[2].duration" or "relationships[0].target".
type ValidationIssue struct {
	Path    string     `json:"path"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Level   IssueLevel `json:"level"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult aggregates the issues found by the validation pipeline.
// Warnings never make a document invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no error-level issue was recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an error-level issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Level: IssueError})
}

// AddWarning records a warning-level issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Level: IssueWarning})
}

// Merge appends the issues of other; a nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil for a valid result. Otherwise it returns a FlowmapError
// carrying the code of the first error, so a lone cycle surfaces as
// CYCLE_DETECTED rather than a generic validation failure.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("map validation failed with %d errors (first: %s)", len(r.Errors), first)
	}

	return NewError(first.Code, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
