package schema

import "time"

// ItemType classifies a work item on the map.
type ItemType string

const (
	ItemTypeTrigger  ItemType = "TRIGGER"
	ItemTypeAction   ItemType = "ACTION"
	ItemTypeDecision ItemType = "DECISION"
	ItemTypeArtifact ItemType = "ARTIFACT"
)

// String returns the string representation of the item type.
func (t ItemType) String() string {
	return string(t)
}

// IsValid checks whether the item type is a known value.
func (t ItemType) IsValid() bool {
	switch t {
	case ItemTypeTrigger, ItemTypeAction, ItemTypeDecision, ItemTypeArtifact:
		return true
	}
	return false
}

// ItemStatus is the lifecycle state of a work item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusReady      ItemStatus = "READY"
	ItemStatusInProgress ItemStatus = "IN_PROGRESS"
	ItemStatusCompleted  ItemStatus = "COMPLETED"
	ItemStatusBlocked    ItemStatus = "BLOCKED"
)

// String returns the string representation of the status.
func (s ItemStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusReady, ItemStatusInProgress, ItemStatusCompleted, ItemStatusBlocked:
		return true
	}
	return false
}

// IsSticky reports whether the status is only ever changed by an explicit
// start or complete, never by recomputation.
func (s ItemStatus) IsSticky() bool {
	return s == ItemStatusInProgress || s == ItemStatusCompleted
}

// RelationshipKind categorizes an edge. All kinds share the same precedence
// semantics: the target waits for the source.
type RelationshipKind string

const (
	RelTrigger    RelationshipKind = "TRIGGER"
	RelBlocks     RelationshipKind = "BLOCKS"
	RelRequires   RelationshipKind = "REQUIRES"
	RelFeedbackTo RelationshipKind = "FEEDBACK_TO"
)

// String returns the string representation of the relationship kind.
func (k RelationshipKind) String() string {
	return string(k)
}

// IsValid checks whether the relationship kind is a known value.
func (k RelationshipKind) IsValid() bool {
	switch k {
	case RelTrigger, RelBlocks, RelRequires, RelFeedbackTo:
		return true
	}
	return false
}

// WorkItem is a node on a workflow map.
type WorkItem struct {
	ID          string         `json:"id"`
	Label       string         `json:"label,omitempty"`
	Type        ItemType       `json:"type"`
	Stage       string         `json:"stage,omitempty"`
	Department  string         `json:"department,omitempty"`
	Duration    string         `json:"duration,omitempty"` // e.g. "2h", "3d", "45m"
	Status      ItemStatus     `json:"status,omitempty"`
	Progress    int            `json:"progress"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DisplayLabel returns the label, or the ID when no label is set.
func (w WorkItem) DisplayLabel() string {
	if w.Label != "" {
		return w.Label
	}
	return w.ID
}

// Relationship is a directed edge between two work items.
type Relationship struct {
	ID     string           `json:"id"`
	Source string           `json:"source"`
	Target string           `json:"target"`
	Kind   RelationshipKind `json:"kind"`
	Label  string           `json:"label,omitempty"`
}

// WorkflowMap is the document a host persists: a set of work items and the
// relationships between them.
type WorkflowMap struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Items         []WorkItem     `json:"items"`
	Relationships []Relationship `json:"relationships"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	AgentID       string         `json:"agent_id,omitempty"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Severity is the bottleneck classification of a single item.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}
