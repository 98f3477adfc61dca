package schema

import (
	"fmt"
	"strings"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodePrerequisite      = "PREREQUISITE_INCOMPLETE"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
)

// FlowmapError is the structured error type for flowmap operations.
type FlowmapError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	ItemID  string         `json:"item_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowmapError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("[%s] item %s: %s", e.Code, e.ItemID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowmapError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowmapError.
func NewError(code, message string) *FlowmapError {
	return &FlowmapError{Code: code, Message: message}
}

// NewErrorf creates a new FlowmapError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowmapError {
	return &FlowmapError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithItem attaches a work item ID to the error.
func (e *FlowmapError) WithItem(itemID string) *FlowmapError {
	e.ItemID = itemID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowmapError) WithCause(err error) *FlowmapError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowmapError) WithDetails(details map[string]any) *FlowmapError {
	e.Details = details
	return e
}

// Prerequisite identifies a predecessor that has not been completed yet.
type Prerequisite struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PrerequisiteError is returned when an item is completed while some of its
// direct predecessors are still incomplete. Blocking lists every one of them,
// in the order their relationships were declared.
type PrerequisiteError struct {
	ItemID    string         `json:"item_id"`
	ItemLabel string         `json:"item_label"`
	Blocking  []Prerequisite `json:"blocking"`
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("[%s] cannot complete %q: waiting on %s",
		ErrCodePrerequisite, e.ItemLabel, strings.Join(e.Labels(), ", "))
}

// Code returns the error code shared with FlowmapError.
func (e *PrerequisiteError) Code() string {
	return ErrCodePrerequisite
}

// Labels returns the display labels of every blocking predecessor.
func (e *PrerequisiteError) Labels() []string {
	labels := make([]string, len(e.Blocking))
	for i, p := range e.Blocking {
		labels[i] = p.Label
	}
	return labels
}
